package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActionValidate(t *testing.T) {
	scenarios := []struct {
		name   string
		action Action
		ok     bool
	}{
		{
			"valid run_command",
			NewRunCommand("web", "echo hello"),
			true,
		},
		{
			"valid place_file",
			NewPlaceFile("a.exe", "db", "/tmp/a.exe"),
			true,
		},
		{
			"run_command without command",
			Action{Kind: ActionRunCommand, TargetHostname: "web"},
			false,
		},
		{
			"place_file without path",
			Action{Kind: ActionPlaceFile, TargetHostname: "db", Filename: "a.exe"},
			false,
		},
		{
			"unknown kind",
			Action{Kind: "detonate", TargetHostname: "web"},
			false,
		},
	}

	for _, s := range scenarios {
		t.Run(s.name, func(t *testing.T) {
			err := s.action.Validate()
			if s.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrValidation)
			}
		})
	}
}

func TestUserRoles(t *testing.T) {
	admin := &User{Roles: []string{"admin"}, Approved: true, Active: true}
	operator := &User{Roles: []string{"operator"}, Approved: true, Active: true}
	suspended := &User{Roles: []string{"operator"}, Approved: true, Active: false}

	assert.True(t, admin.IsAdmin())
	assert.True(t, admin.HasRole("operator"), "admin implies every role")
	assert.False(t, operator.IsAdmin())
	assert.True(t, operator.HasRole("operator"))
	assert.True(t, operator.MayAct())
	assert.False(t, suspended.MayAct())
	assert.False(t, (*User)(nil).MayAct())
}

func TestIsolationInternal(t *testing.T) {
	assert.True(t, IsolationComplete.Internal())
	assert.True(t, IsolationControlled.Internal())
	assert.False(t, IsolationOpen.Internal())
}
