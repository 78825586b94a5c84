package dreamscreen

import "fmt"

// Product identifies the hardware family. It is carried as the last byte of
// a Refresh payload and selects the payload layout.
type Product byte

const (
	ProductHD       Product = 0x01
	Product4K       Product = 0x02
	ProductSidekick Product = 0x03
	ProductConnect  Product = 0x04
	ProductSolo     Product = 0x07
)

func (p Product) String() string {
	switch p {
	case ProductHD:
		return "DreamScreen HD"
	case Product4K:
		return "DreamScreen 4K"
	case ProductSidekick:
		return "SideKick"
	case ProductConnect:
		return "Connect"
	case ProductSolo:
		return "DreamScreen Solo"
	default:
		return fmt.Sprintf("product(0x%02X)", byte(p))
	}
}

// refreshLayout holds the payload offsets of one product family.
type refreshLayout struct {
	size            int
	name            int
	groupName       int
	groupNumber     int
	mode            int
	brightness      int
	color           int
	ambientModeType int
	scene           int
	input           int // -1 when the product has no HDMI inputs
}

const nameLen = 16

var (
	// HD, 4K and Solo share the video-capable layout.
	videoLayout = &refreshLayout{
		size: 75, name: 0, groupName: 16, groupNumber: 32, mode: 33, brightness: 34,
		color: 40, ambientModeType: 61, scene: 62, input: 73,
	}
	// Sidekick and Connect report a shorter block without inputs.
	accessoryLayout = &refreshLayout{
		size: 62, name: 0, groupName: 16, groupNumber: 32, mode: 33, brightness: 34,
		color: 35, ambientModeType: 59, scene: 60, input: -1,
	}
)

func layoutFor(p Product) *refreshLayout {
	switch p {
	case ProductHD, Product4K, ProductSolo:
		return videoLayout
	case ProductSidekick, ProductConnect:
		return accessoryLayout
	default:
		return nil
	}
}

// RefreshState is the status block a device reports in reply to a
// RefreshRequest.
type RefreshState struct {
	Name            string
	GroupName       string
	GroupNumber     byte
	Mode            byte
	Brightness      byte
	R, G, B         byte
	AmbientModeType byte
	Scene           byte
	Input           byte
}

// Refresh is a device status block. The product layout is resolved once
// at construction; accessors are plain offset reads.
type Refresh struct {
	Header
	product Product
	layout  *refreshLayout
	payload []byte
}

// NewRefresh builds a status block for the given product, as a device
// would send it.
func NewRefresh(group byte, product Product, st RefreshState) (*Refresh, error) {
	l := layoutFor(product)
	if l == nil {
		return nil, fmt.Errorf("%w: unknown product 0x%02X", ErrUnrecognizedMessage, byte(product))
	}
	p := make([]byte, l.size)
	copy(p[l.name:l.name+nameLen], st.Name)
	copy(p[l.groupName:l.groupName+nameLen], st.GroupName)
	p[l.groupNumber] = st.GroupNumber
	p[l.mode] = st.Mode
	p[l.brightness] = st.Brightness
	p[l.color], p[l.color+1], p[l.color+2] = st.R, st.G, st.B
	p[l.ambientModeType] = st.AmbientModeType
	p[l.scene] = st.Scene
	if l.input >= 0 {
		p[l.input] = st.Input
	}
	p[l.size-1] = byte(product)
	return &Refresh{Header: Header{Group: group, Flags: FlagResponse}, product: product, layout: l, payload: p}, nil
}

func newRefreshFromFrame(f Frame) *Refresh {
	product := Product(f.Payload[len(f.Payload)-1])
	return &Refresh{
		Header:  Header{Group: f.Group, Flags: f.Flags},
		product: product,
		layout:  layoutFor(product),
		payload: f.Payload,
	}
}

func (m *Refresh) Product() Product      { return m.product }
func (m *Refresh) Name() string          { return trimName(m.payload[m.layout.name : m.layout.name+nameLen]) }
func (m *Refresh) GroupName() string     { return trimName(m.payload[m.layout.groupName : m.layout.groupName+nameLen]) }
func (m *Refresh) GroupNumber() byte     { return m.payload[m.layout.groupNumber] }
func (m *Refresh) Mode() byte            { return m.payload[m.layout.mode] }
func (m *Refresh) Brightness() byte      { return m.payload[m.layout.brightness] }
func (m *Refresh) AmbientModeType() byte { return m.payload[m.layout.ambientModeType] }
func (m *Refresh) Scene() byte           { return m.payload[m.layout.scene] }

// AmbientColor returns the configured ambient colour.
func (m *Refresh) AmbientColor() (r, g, b byte) {
	c := m.layout.color
	return m.payload[c], m.payload[c+1], m.payload[c+2]
}

// Input returns the selected HDMI input; ok is false for products without inputs.
func (m *Refresh) Input() (input byte, ok bool) {
	if m.layout.input < 0 {
		return 0, false
	}
	return m.payload[m.layout.input], true
}

func (m *Refresh) Frame() Frame {
	p := make([]byte, len(m.payload))
	copy(p, m.payload)
	return m.frame(cmdUpperInfo, cmdLowerRefresh, p...)
}

func (m *Refresh) Kind() string { return "refresh" }

func (m *Refresh) Fields() map[string]any {
	r, g, b := m.AmbientColor()
	f := map[string]any{
		"group":             m.GroupNumber(),
		"name":              m.Name(),
		"group_name":        m.GroupName(),
		"product":           m.product.String(),
		"mode":              ModeName(m.Mode()),
		"brightness":        m.Brightness(),
		"color":             []int{int(r), int(g), int(b)},
		"ambient_mode_type": AmbientTypeName(m.AmbientModeType()),
		"scene":             SceneName(m.Scene()),
	}
	if in, ok := m.Input(); ok {
		f["input"] = in
	}
	return f
}

func (m *Refresh) String() string {
	return fmt.Sprintf("Refresh{%s name=%q group=%d mode=%s brightness=%d}",
		m.product, m.Name(), m.GroupNumber(), ModeName(m.Mode()), m.Brightness())
}
