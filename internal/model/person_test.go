package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPerson_AddInterests(t *testing.T) {
	p := &Person{Interests: []string{"solar"}}

	p.AddInterests("roofing", "solar", "")
	assert.Equal(t, []string{"solar", "roofing"}, p.Interests)

	p.AddInterests()
	assert.Equal(t, []string{"solar", "roofing"}, p.Interests)
}

func TestPerson_AddEmailAddressesAndDeviceIDs(t *testing.T) {
	p := &Person{}

	p.AddEmailAddresses("a@b.com", "a@b.com")
	p.AddDeviceIDs("GA1.2.3", "GA1.2.3", "GA9.9.9")

	assert.Equal(t, []string{"a@b.com"}, p.EmailAddresses)
	assert.Equal(t, []string{"GA1.2.3", "GA9.9.9"}, p.DeviceIDs)
}

func TestPerson_SetOther(t *testing.T) {
	p := &Person{}
	p.SetOther("initialCallRecordingURL", "https://recordings/abc")
	assert.Equal(t, "https://recordings/abc", p.Other["initialCallRecordingURL"])
}

func TestPerson_Stage(t *testing.T) {
	tests := []struct {
		name   string
		person Person
		want   EnrichmentStage
	}{
		{"new record", Person{}, StagePending},
		{
			"phone validated",
			Person{Actions: Actions{ValidatePhoneNumber: true}},
			StagePhoneValidated,
		},
		{
			"information gathered",
			Person{Actions: Actions{ValidatePhoneNumber: true, GatherInformation: true}},
			StageInformationGathered,
		},
		{
			"done",
			Person{Actions: Actions{ValidatePhoneNumber: true, GatherInformation: true, Research: true}},
			StageDone,
		},
		{
			"spam short-circuit",
			Person{Actions: Actions{ValidatePhoneNumber: true, Research: true}},
			StageDone,
		},
		{
			"errored wins over flags",
			Person{Meta: Meta{Error: true}, Actions: Actions{ValidatePhoneNumber: true}},
			StageErrored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.person.Stage())
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StagePending, StagePhoneValidated))
	assert.True(t, CanTransition(StagePhoneValidated, StageInformationGathered))
	assert.True(t, CanTransition(StageInformationGathered, StageDone))

	// Spam short-circuit jumps straight to done.
	assert.True(t, CanTransition(StagePending, StageDone))

	// Any non-terminal stage may error; errored may recover.
	assert.True(t, CanTransition(StagePhoneValidated, StageErrored))
	assert.True(t, CanTransition(StageErrored, StagePhoneValidated))

	// Done is terminal; stages never run backwards.
	assert.False(t, CanTransition(StageDone, StagePending))
	assert.False(t, CanTransition(StageInformationGathered, StagePhoneValidated))
	assert.False(t, CanTransition(StagePending, StageInformationGathered))
}
