package midi

import "fmt"

// DeviceDescriptor describes one MIDI input port.
type DeviceDescriptor struct {
	Index    int
	Name     string
	Excluded bool
}

// ListDevices enumerates input ports, flagging those matched by exclude.
func ListDevices(drv PortLister, exclude []string) ([]DeviceDescriptor, error) {
	if exclude == nil {
		exclude = DefaultExclude
	}
	ins, err := drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("list midi inputs: %w", err)
	}
	out := make([]DeviceDescriptor, 0, len(ins))
	for i, in := range ins {
		name := in.String()
		out = append(out, DeviceDescriptor{Index: i, Name: name, Excluded: isExcluded(name, exclude)})
	}
	return out, nil
}
