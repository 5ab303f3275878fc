package auth

// DashboardVariant names the dashboard a router renders.
type DashboardVariant string

const (
	DashboardPublic    DashboardVariant = "public"
	DashboardUser      DashboardVariant = "user"
	DashboardOwner     DashboardVariant = "owner"
	DashboardCommunity DashboardVariant = "community"
	DashboardBroker    DashboardVariant = "broker"
	DashboardAdmin     DashboardVariant = "admin"
)

// NavItem is one entry of a navigation set.
type NavItem struct {
	Label string `json:"label"`
	Path  string `json:"path"`
}

// NavigationSet is the ordered navigation for a dashboard variant.
type NavigationSet struct {
	Variant DashboardVariant `json:"variant"`
	Items   []NavItem        `json:"items"`
}

// View is what the router needs to render a protected page.
type View struct {
	Dashboard  DashboardVariant `json:"dashboard"`
	Navigation NavigationSet    `json:"navigation"`
	HomePath   string           `json:"home_path"`
}

// DashboardFor maps a role to its dashboard. Unknown roles get the owner
// dashboard.
func DashboardFor(role Role) DashboardVariant {
	switch role {
	case RoleUser:
		return DashboardUser
	case RoleOwner:
		return DashboardOwner
	case RoleCommunity:
		return DashboardCommunity
	case RoleBroker:
		return DashboardBroker
	case RoleAdmin:
		return DashboardAdmin
	case RoleUnknown:
		return DashboardOwner
	default:
		return DashboardOwner
	}
}

var navigation = map[DashboardVariant][]NavItem{
	DashboardPublic: {
		{Label: "Browse", Path: "/properties"},
		{Label: "Sign in", Path: "/login"},
		{Label: "Create account", Path: "/signup"},
	},
	DashboardUser: {
		{Label: "Dashboard", Path: "/dashboard"},
		{Label: "Browse", Path: "/properties"},
		{Label: "Saved", Path: "/saved"},
		{Label: "Profile", Path: "/profile"},
	},
	DashboardOwner: {
		{Label: "Dashboard", Path: "/owner/dashboard"},
		{Label: "My properties", Path: "/owner/properties"},
		{Label: "Add property", Path: "/owner/properties/new"},
		{Label: "Profile", Path: "/profile"},
	},
	DashboardCommunity: {
		{Label: "Dashboard", Path: "/community/dashboard"},
		{Label: "Community properties", Path: "/community/properties"},
		{Label: "Members", Path: "/community/members"},
		{Label: "Profile", Path: "/profile"},
	},
	DashboardBroker: {
		{Label: "Dashboard", Path: "/broker/dashboard"},
		{Label: "Listings", Path: "/broker/properties"},
		{Label: "Clients", Path: "/broker/clients"},
		{Label: "Profile", Path: "/profile"},
	},
	DashboardAdmin: {
		{Label: "Dashboard", Path: "/admin/dashboard"},
		{Label: "Verification queue", Path: "/admin/verification"},
		{Label: "Users", Path: "/admin/users"},
		{Label: "Properties", Path: "/admin/properties"},
	},
}

func navigationFor(variant DashboardVariant) NavigationSet {
	items := navigation[variant]
	out := make([]NavItem, len(items))
	copy(out, items)
	return NavigationSet{Variant: variant, Items: out}
}

// NavigationFor returns the navigation of the role's dashboard.
func NavigationFor(role Role) NavigationSet {
	return navigationFor(DashboardFor(role))
}

// SelectView picks the view for identity. A nil identity gets the public view.
func SelectView(identity *Identity) View {
	variant := DashboardPublic
	if identity != nil {
		variant = DashboardFor(identity.Role)
	}

	nav := navigationFor(variant)
	home := "/"
	if len(nav.Items) > 0 && variant != DashboardPublic {
		home = nav.Items[0].Path
	}
	return View{
		Dashboard:  variant,
		Navigation: nav,
		HomePath:   home,
	}
}
