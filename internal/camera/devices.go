package camera

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/mediadevices"
	"gocv.io/x/gocv"
)

// DeviceDescriptor names one camera a backend can open.
type DeviceDescriptor struct {
	Backend string
	ID      string
	Label   string
}

// ListDevices reports cameras seen by mediadevices and OpenCV indices
// 0..probeMax-1 that open successfully.
func ListDevices(probeMax int) []DeviceDescriptor {
	var out []DeviceDescriptor

	n := 0
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind != mediadevices.VideoInput {
			continue
		}
		n++
		label := d.Label
		if label == "" || strings.HasPrefix(label, "0x") {
			label = fmt.Sprintf("Camera %d", n)
		}
		out = append(out, DeviceDescriptor{Backend: BackendMediaDevices, ID: d.DeviceID, Label: label})
	}

	for i := 0; i < probeMax; i++ {
		vc, err := gocv.OpenVideoCapture(i)
		if err != nil {
			continue
		}
		if vc.IsOpened() {
			label := fmt.Sprintf("OpenCV camera %d (%.0fx%.0f)", i,
				vc.Get(gocv.VideoCaptureFrameWidth), vc.Get(gocv.VideoCaptureFrameHeight))
			out = append(out, DeviceDescriptor{Backend: BackendOpenCV, ID: strconv.Itoa(i), Label: label})
		}
		vc.Close()
	}
	return out
}
