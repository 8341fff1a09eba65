package domain

// User is the roster view of an account. Accounts are created elsewhere; the
// sync server only reads them to label shared lists.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Collaborator grants MemberID read/write access to OwnerID's list.
type Collaborator struct {
	Type     string `json:"type"`
	OwnerID  string `json:"owner_id"`
	MemberID string `json:"member_id"`
}

const CollaboratorDocType = "collaborator"

// MeResponse describes the caller and the other owners whose lists they can
// edit.
type MeResponse struct {
	User
	SharedOwners []string `json:"sharedOwners"`
}
