package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindBalance(t *testing.T) {
	assert.True(t, KindCredits.Balance())
	assert.True(t, KindDays.Balance())
	assert.False(t, KindRoleChange.Balance())
	assert.False(t, Kind("bogus").Balance())
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleAdmin.Valid())
	assert.True(t, RoleSeller.Valid())
	assert.True(t, RoleUser.Valid())
	assert.False(t, Role("superuser").Valid())
	assert.False(t, Role("").Valid())
}

func TestRoleCanGrant(t *testing.T) {
	assert.True(t, RoleAdmin.CanGrant())
	assert.True(t, RoleSeller.CanGrant())
	assert.False(t, RoleUser.CanGrant())
}
