package node

import "context"

// ControllerAddress is the address the controller registers under.
const ControllerAddress = "controller"

// WeatherAddress is the address of the weather node created by Discover.
const WeatherAddress = "weather"

// Device is a pollable node owned by the controller.
type Device interface {
	Address() string
	Start(ctx context.Context) error
	ShortPoll(ctx context.Context) error
	LongPoll(ctx context.Context) error
	Query(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Host is the controller's view of the device state surface.
type Host interface {
	SetAvailable(address string, available bool)
	AddNotice(key, message string)
	RemoveNotice(key string)
	RemoveAllNotices()
	UpdateProfile() error
}

// Factory builds the weather device from the current parameter values.
type Factory func(address, apiKey, location string) (Device, error)
