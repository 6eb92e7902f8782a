package szd

import (
	"sync"

	"github.com/szd-go/zns/internal/constants"
	"github.com/szd-go/zns/internal/interfaces"
)

// ChannelFactory mints and retires Channels against one open device.
// It is reference counted: logs call Ref on construction
// and Unref on destruction; the last Unref tears down the backend.
type ChannelFactory struct {
	mu sync.Mutex

	backend interfaces.Backend
	devID   string
	info    interfaces.DeviceInfo

	maxChannels int
	channels    map[int]*Channel
	rawQPairs   map[interfaces.QPairHandle]struct{}
	nextIndex   int

	refCount int
}

// NewChannelFactory constructs a factory bound to an already-open
// backend. maxChannels <= 0 falls back to constants.DefaultMaxChannels.
func NewChannelFactory(backend interfaces.Backend, devID string, info interfaces.DeviceInfo, maxChannels int) *ChannelFactory {
	if maxChannels <= 0 {
		maxChannels = constants.DefaultMaxChannels
	}
	return &ChannelFactory{
		backend:     backend,
		devID:       devID,
		info:        info,
		maxChannels: maxChannels,
		channels:    make(map[int]*Channel),
		rawQPairs:   make(map[interfaces.QPairHandle]struct{}),
		refCount:    1,
	}
}

// RegisterRawQPair creates a bare queue-pair not attached to any Channel,
// for callers that want to drive the backend directly.
func (f *ChannelFactory) RegisterRawQPair() (interfaces.QPairHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q, err := f.backend.CreateQPair()
	if err != nil {
		return 0, wrapBackendError("ChannelFactory.RegisterRawQPair", err)
	}
	f.rawQPairs[q] = struct{}{}
	return q, nil
}

// UnregisterRawQPair destroys a queue-pair previously minted by
// RegisterRawQPair.
func (f *ChannelFactory) UnregisterRawQPair(q interfaces.QPairHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.rawQPairs[q]; !ok {
		return NewDeviceError("ChannelFactory.UnregisterRawQPair", f.devID, CodeInvalidArguments, "unknown queue-pair")
	}
	delete(f.rawQPairs, q)
	if err := f.backend.DestroyQPair(q); err != nil {
		return wrapBackendError("ChannelFactory.UnregisterRawQPair", err)
	}
	return nil
}

// RegisterChannel mints a Channel over the logical zone window
// [minZone, maxZone). A zero maxZone (with minZone also zero) defaults to
// the whole device window. preserveAsyncBuffer and depth are recorded on
// the returned channel; AppendAsync does not consult either of them.
func (f *ChannelFactory) RegisterChannel(minZone, maxZone uint64, preserveAsyncBuffer bool, depth int) (*Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.channels) >= f.maxChannels {
		return nil, NewDeviceError("ChannelFactory.RegisterChannel", f.devID, CodeInvalidArguments, "channel_count == max_channels")
	}

	if minZone == 0 && maxZone == 0 {
		minZone = f.info.MinLBA / f.info.ZoneSize
		maxZone = f.info.MaxLBA / f.info.ZoneSize
	}

	q, err := f.backend.CreateQPair()
	if err != nil {
		return nil, wrapBackendError("ChannelFactory.RegisterChannel", err)
	}

	ch, err := NewChannel(f.backend, q, f.info, minZone, maxZone, f.devID)
	if err != nil {
		f.backend.DestroyQPair(q)
		return nil, err
	}
	ch.preserveAsyncBuffer = preserveAsyncBuffer
	ch.writeDepth = depth

	ch.index = f.nextIndex
	f.nextIndex++
	f.channels[ch.index] = ch

	return ch, nil
}

// UnregisterChannel retires a Channel minted by this factory, destroying
// its queue-pair.
func (f *ChannelFactory) UnregisterChannel(c *Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c == nil || c.index < 0 {
		return NewDeviceError("ChannelFactory.UnregisterChannel", f.devID, CodeInvalidArguments, "channel not owned by this factory")
	}
	if _, ok := f.channels[c.index]; !ok {
		return NewDeviceError("ChannelFactory.UnregisterChannel", f.devID, CodeInvalidArguments, "channel not owned by this factory")
	}

	delete(f.channels, c.index)
	c.Close()
	if err := f.backend.DestroyQPair(c.qpair); err != nil {
		return wrapBackendError("ChannelFactory.UnregisterChannel", err)
	}
	return nil
}

// Ref increments the factory's reference count. Logs call this on
// construction when sharing a factory.
func (f *ChannelFactory) Ref() {
	f.mu.Lock()
	f.refCount++
	f.mu.Unlock()
}

// Unref decrements the reference count; the last Unref tears down the
// backend and every remaining raw queue-pair.
func (f *ChannelFactory) Unref() error {
	f.mu.Lock()
	f.refCount--
	destroy := f.refCount <= 0
	var channels []*Channel
	var rawQPairs []interfaces.QPairHandle
	if destroy {
		for _, c := range f.channels {
			channels = append(channels, c)
		}
		for q := range f.rawQPairs {
			rawQPairs = append(rawQPairs, q)
		}
		f.channels = make(map[int]*Channel)
		f.rawQPairs = make(map[interfaces.QPairHandle]struct{})
	}
	f.mu.Unlock()

	if !destroy {
		return nil
	}

	for _, c := range channels {
		c.Close()
		f.backend.DestroyQPair(c.qpair)
	}
	for _, q := range rawQPairs {
		f.backend.DestroyQPair(q)
	}
	return f.backend.Destroy()
}
