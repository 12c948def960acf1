package serialport

import (
	"fmt"
	"sort"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

type Info struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

func (i Info) String() string {
	if !i.IsUSB {
		return i.Name
	}
	label := fmt.Sprintf("%s (USB %s:%s", i.Name, i.VID, i.PID)
	if i.Product != "" {
		label += " " + i.Product
	}
	return label + ")"
}

// List enumerates serial ports, with USB details where the platform
// provides them.
func List() ([]Info, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil || len(details) == 0 {
		return listNames()
	}

	ports := make([]Info, 0, len(details))
	for _, d := range details {
		ports = append(ports, Info{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	sortInfos(ports)
	return ports, nil
}

func listNames() ([]Info, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}

	ports := make([]Info, 0, len(names))
	for _, name := range names {
		ports = append(ports, Info{Name: name})
	}
	sortInfos(ports)
	return ports, nil
}

func sortInfos(ports []Info) {
	sort.Slice(ports, func(i, j int) bool {
		return ports[i].Name < ports[j].Name
	})
}
