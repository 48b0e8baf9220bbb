package coretest

import (
	"time"

	"github.com/JonMunkholm/hpsync/internal/core"
)

// Fixture wires a Service against fresh fakes.
type Fixture struct {
	LMS      *LMS
	Store    *Store
	Settings *Settings
	Queue    *Queue
	Service  *core.Service
}

// NewFixture returns a Service with a queue and the given settings. The
// group transform is disabled unless settings set it.
func NewFixture(settings map[string]string) *Fixture {
	values := map[string]string{
		core.SettingGroupPattern:     "",
		core.SettingGroupReplacement: "",
	}
	for k, v := range settings {
		values[k] = v
	}

	f := &Fixture{
		LMS:      NewLMS(),
		Store:    NewStore(),
		Settings: NewSettings(values),
		Queue:    &Queue{},
	}
	f.Service = core.NewService(f.LMS, f.Store, f.Settings, core.Options{
		ImportWaitTime: time.Second,
		SystemActorID:  2,
	})
	f.Service.UseQueue(f.Queue)
	return f
}
