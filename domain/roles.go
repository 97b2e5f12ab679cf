package domain

// RoleInGroup returns the role recorded for the user in the group. A user
// without an explicit entry in an existing group is a plain member. The empty
// string means the group does not exist.
func RoleInGroup(doc *Document, groupID, userID string) string {
	g, ok := doc.Groups[groupID]
	if !ok {
		return ""
	}
	if role, ok := g.Roles[userID]; ok {
		return role
	}
	return RoleMember
}

// CanEditGroup reports whether the user may mutate the group's contents:
// global leaders may edit any group, otherwise the user must be the group's
// owner. Unknown groups and users never qualify.
func CanEditGroup(doc *Document, groupID, userID string) bool {
	if u, ok := doc.Users[userID]; ok && u.Role == RoleLeader {
		return true
	}
	return RoleInGroup(doc, groupID, userID) == RoleOwner
}
