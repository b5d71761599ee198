package transport

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// HokuyoVID is the USB vendor ID of Hokuyo URG sensors.
const HokuyoVID = "15D1"

// PortInfo describes one serial port found on the host.
type PortInfo struct {
	Name         string
	Product      string
	SerialNumber string
	IsUSB        bool
	// IsURG is set for USB ports whose vendor is Hokuyo.
	IsURG bool
}

var listPorts = enumerator.GetDetailedPortsList

// Discover lists the serial ports on the host, URG devices first.
func Discover() ([]PortInfo, error) {
	details, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	var urg, other []PortInfo
	for _, d := range details {
		info := PortInfo{
			Name:         d.Name,
			Product:      d.Product,
			SerialNumber: d.SerialNumber,
			IsUSB:        d.IsUSB,
			IsURG:        d.IsUSB && strings.EqualFold(d.VID, HokuyoVID),
		}
		if info.IsURG {
			urg = append(urg, info)
		} else {
			other = append(other, info)
		}
	}
	return append(urg, other...), nil
}
