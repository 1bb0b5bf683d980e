// Package orgconfig loads organization configuration files into
// goPortal.OrganizationPolicy values.
//
// Each organization is described by one YAML file:
//
//	name: default name
//	slug: default
//	settings:
//	  mobile_phone_verification: true
//	  subscriptions: true
//	  payment_requires_internet: true
//	  payment_iframe: true
//	  password_change_excluded_methods: [saml, social_login]
//
// Only the settings above are consulted; everything else in the file is
// ignored. A [Registry] holds the policies of a directory of such files and a
// [Watcher] reloads it when the files change.
package orgconfig
