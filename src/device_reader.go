package main

import (
	"context"
	"log"

	"github.com/goburrow/modbus"

	"github.com/ryansname/agate2mqtt/src/sunspec"
)

// SunSpec devices answer on a fixed unit id
const modbusUnitID = 1

// scanDevice opens a fresh Modbus/TCP session, scans every SunSpec model
// and closes the session again, whatever the outcome
func scanDevice(ctx context.Context, cfg DeviceConfig) (*sunspec.Device, error) {
	handler := modbus.NewTCPClientHandler(cfg.HostPort())
	handler.Timeout = cfg.Timeout
	handler.SlaveId = modbusUnitID

	log.Printf("Connecting to SunSpec device at %s...\n", cfg.HostPort())
	if err := handler.Connect(); err != nil {
		return nil, &DeviceError{Op: "connect", Err: err}
	}
	defer func() {
		if err := handler.Close(); err != nil {
			log.Printf("Error closing Modbus connection: %v\n", err)
		}
	}()

	dev, err := sunspec.Scan(ctx, modbus.NewClient(handler))
	if err != nil {
		return nil, &DeviceError{Op: "scan", Err: err}
	}

	if id, ok := dev.Identity(); ok {
		log.Printf("Scanned %s %s (SN %s, fw %s): %d models at base %d\n",
			id.Manufacturer, id.Model, id.Serial, id.Version, len(dev.Models), dev.BaseAddr)
	} else {
		log.Printf("Scanned %d models at base %d\n", len(dev.Models), dev.BaseAddr)
	}

	return dev, nil
}

// readModels scans the device and returns its models keyed by ID
func readModels(ctx context.Context, cfg DeviceConfig) (Registry, error) {
	dev, err := scanDevice(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return Registry(dev.ByID()), nil
}
