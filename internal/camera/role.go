// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package camera

// Role names a purpose for which at most one transcoder process runs per device.
type Role string

const (
	RoleSnapshot    Role = "snapshot"
	RoleLivePreview Role = "live-preview"
	RoleRestream    Role = "restream"
	RoleGif         Role = "gif"
	RoleMp4Record   Role = "mp4"
)

// Roles lists all transcoder roles.
var Roles = []Role{RoleSnapshot, RoleLivePreview, RoleRestream, RoleGif, RoleMp4Record}

func (r Role) String() string { return string(r) }

// Continuous reports whether the role keeps running until stopped, as opposed
// to one-shot clip roles that exit by themselves.
func (r Role) Continuous() bool {
	return r != RoleGif && r != RoleMp4Record
}
