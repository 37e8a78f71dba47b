package nio

import "github.com/behrlich/go-nio/internal/sockctrl"

// Option names the small enumerated set of socket options spec §4.3/§6
// exposes through TCPClient.GetOption/SetOption.
type Option string

const (
	OptRecvBuffer Option = "SO_RCVBUF"
	OptSendBuffer Option = "SO_SNDBUF"
	OptKeepAlive  Option = "SO_KEEPALIVE"
	OptNoDelay    Option = "TCP_NODELAY"
)

// GetOption returns the current value of opt. Integer options
// (SO_RCVBUF/SO_SNDBUF) are returned as int; boolean options
// (SO_KEEPALIVE/TCP_NODELAY) as bool.
func (c *TCPClient) GetOption(opt Option) (any, error) {
	c.optMu.Lock()
	defer c.optMu.Unlock()

	switch opt {
	case OptRecvBuffer:
		v, err := sockctrl.RecvBuffer(c.fd)
		if err != nil {
			return nil, New("get_option", CodeOptionNotSupported, err.Error())
		}
		return v, nil
	case OptSendBuffer:
		v, err := sockctrl.SendBuffer(c.fd)
		if err != nil {
			return nil, New("get_option", CodeOptionNotSupported, err.Error())
		}
		return v, nil
	case OptNoDelay:
		v, err := sockctrl.NoDelay(c.fd)
		if err != nil {
			return nil, New("get_option", CodeOptionNotSupported, err.Error())
		}
		return v, nil
	case OptKeepAlive:
		// Not every platform exposes a getter for SO_KEEPALIVE; the
		// client caches the last value SetOption installed (spec §4.3).
		return c.cachedKeepAlive, nil
	default:
		return nil, New("get_option", CodeOptionNotSupported, string(opt))
	}
}

// SetOption applies value to opt, returning success as described in
// spec §6 ("set returns success: bool") by way of a non-nil error on
// failure.
func (c *TCPClient) SetOption(opt Option, value any) error {
	c.optMu.Lock()
	defer c.optMu.Unlock()

	switch opt {
	case OptRecvBuffer:
		v, ok := value.(int)
		if !ok {
			return New("set_option", CodeOptionNotSupported, "SO_RCVBUF requires an int")
		}
		if err := sockctrl.SetRecvBuffer(c.fd, v); err != nil {
			return New("set_option", CodeOptionNotSupported, err.Error())
		}
		return nil
	case OptSendBuffer:
		v, ok := value.(int)
		if !ok {
			return New("set_option", CodeOptionNotSupported, "SO_SNDBUF requires an int")
		}
		if err := sockctrl.SetSendBuffer(c.fd, v); err != nil {
			return New("set_option", CodeOptionNotSupported, err.Error())
		}
		return nil
	case OptNoDelay:
		v, ok := value.(bool)
		if !ok {
			return New("set_option", CodeOptionNotSupported, "TCP_NODELAY requires a bool")
		}
		if err := sockctrl.SetNoDelay(c.fd, v); err != nil {
			return New("set_option", CodeOptionNotSupported, err.Error())
		}
		return nil
	case OptKeepAlive:
		v, ok := value.(bool)
		if !ok {
			return New("set_option", CodeOptionNotSupported, "SO_KEEPALIVE requires a bool")
		}
		if err := sockctrl.SetKeepAlive(c.fd, v); err != nil {
			return New("set_option", CodeOptionNotSupported, err.Error())
		}
		c.cachedKeepAlive = v
		return nil
	default:
		return New("set_option", CodeOptionNotSupported, string(opt))
	}
}
