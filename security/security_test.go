package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrincipalPropagation(t *testing.T) {
	assert.Equal(t, Anonymous, PrincipalFrom(context.Background()))
	ctx := WithPrincipal(context.Background(), "ada")
	assert.Equal(t, Principal("ada"), PrincipalFrom(ctx))
	assert.Equal(t, Anonymous, PrincipalFrom(WithPrincipal(ctx, "")))
}

func TestStatic(t *testing.T) {
	s := NewStatic()
	s.Grant("ada", "teller", "auditor", "teller")
	assert.Equal(t, []string{"teller", "auditor"}, s.Roles("ada"))

	ada := WithPrincipal(context.Background(), "ada")
	bob := WithPrincipal(context.Background(), "bob")

	assert.Equal(t, Principal("ada"), s.CallerPrincipal(ada))
	assert.True(t, s.IsCallerAuthorized(ada, []string{"manager", "teller"}))
	assert.False(t, s.IsCallerAuthorized(bob, []string{"teller"}))
	assert.False(t, s.IsCallerAuthorized(ada, nil))
	assert.True(t, s.IsCallerInRole(ada, "auditor"))

	s.Revoke("ada", "auditor")
	assert.False(t, s.IsCallerInRole(ada, "auditor"))
	assert.True(t, s.IsCallerInRole(ada, "teller"))
}

func TestAllowAll(t *testing.T) {
	var s Service = AllowAll{}
	assert.True(t, s.IsCallerAuthorized(context.Background(), []string{"anything"}))
	assert.Equal(t, Anonymous, s.CallerPrincipal(context.Background()))
}
