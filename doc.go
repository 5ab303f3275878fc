// Package auth is the identity core of the estate listing service: who is
// signed in, which profile and role they carry, what they are allowed to see,
// and how listings move through moderation.
//
// Sessions:
//   - SessionStore wraps an AuthBackend (see the backend package) and keeps
//     the current Session. Subscribers get the current state on subscribe and
//     every change after it. A failed sign in or refresh leaves the state as
//     it was; sign out always clears it.
//
// Profiles:
//   - ProfileResolver loads the Profile row for a user, retrying while the
//     provisioning job catches up. When the row never shows up it builds a
//     provisional profile from the sign up metadata. Provisional profiles are
//     never admins.
//
// Identity:
//   - IdentityContext combines the two and exposes one Identity (session,
//     profile, role) to the rest of the app. RouteAuthenticator does the same
//     per request for HTTP handlers.
//
// Views:
//   - SelectView maps a Role to the dashboard, home path and navigation for
//     that role. An absent identity gets the public view.
//
// Verification:
//   - VerificationService lets admins approve or reject pending properties.
//     VerificationMachine owns the state graph and the Verified/Status/Decision
//     patch written for each decision, and reports transitions to an
//     ActivitySink.
package auth
