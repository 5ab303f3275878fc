package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-estate-auth"
	"github.com/stretchr/testify/assert"
)

func TestSelectViewForEveryRole(t *testing.T) {
	tests := []struct {
		role      auth.Role
		dashboard auth.DashboardVariant
		home      string
	}{
		{auth.RoleUser, auth.DashboardUser, "/dashboard"},
		{auth.RoleOwner, auth.DashboardOwner, "/owner/dashboard"},
		{auth.RoleCommunity, auth.DashboardCommunity, "/community/dashboard"},
		{auth.RoleBroker, auth.DashboardBroker, "/broker/dashboard"},
		{auth.RoleAdmin, auth.DashboardAdmin, "/admin/dashboard"},
	}

	for _, tt := range tests {
		t.Run(tt.role.String(), func(t *testing.T) {
			view := auth.SelectView(&auth.Identity{ID: "x", Role: tt.role})
			assert.Equal(t, tt.dashboard, view.Dashboard)
			assert.Equal(t, tt.dashboard, view.Navigation.Variant)
			assert.NotEmpty(t, view.Navigation.Items)
			assert.Equal(t, tt.home, view.HomePath)
		})
	}
}

func TestSelectViewAbsentRoleIsOwner(t *testing.T) {
	view := auth.SelectView(&auth.Identity{ID: "x"})
	assert.Equal(t, auth.DashboardOwner, view.Dashboard)
	assert.Equal(t, auth.DashboardOwner, auth.DashboardFor(auth.Role(42)))
}

func TestSelectViewAnonymousIsPublic(t *testing.T) {
	view := auth.SelectView(nil)
	assert.Equal(t, auth.DashboardPublic, view.Dashboard)
	assert.Equal(t, "/", view.HomePath)
	assert.Equal(t, "/login", view.Navigation.Items[1].Path)
}

func TestNavigationIsCopied(t *testing.T) {
	nav := auth.NavigationFor(auth.RoleAdmin)
	nav.Items[0].Path = "/hijacked"

	again := auth.NavigationFor(auth.RoleAdmin)
	assert.Equal(t, "/admin/dashboard", again.Items[0].Path)
	assert.Equal(t, "/admin/verification", again.Items[1].Path)
}
