package auth

import "context"

// UserStore is the identity store: user records indexed by id and by email.
//
// Implementations must make every mutation visible to both lookups at once;
// a reader must never see the id index and the email index disagree.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, id string, upd UserUpdate) (*User, error)
	Delete(ctx context.Context, id string) error
	HasAdmin(ctx context.Context) (bool, error)
	List(ctx context.Context) ([]*User, error)
	Count(ctx context.Context) (int, error)
}

// applyUpdate validates upd and applies it to u in place.
func applyUpdate(u *User, upd UserUpdate) error {
	if upd.Email != nil {
		email := NormalizeEmail(*upd.Email)
		if !validEmail(email) {
			return ErrInvalidInput
		}
		u.Email = email
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Role != nil {
		if !upd.Role.Valid() {
			return ErrInvalidInput
		}
		u.Role = *upd.Role
	}
	if upd.PasswordHash != nil {
		if *upd.PasswordHash == "" {
			return ErrInvalidInput
		}
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.Permissions != nil {
		u.Permissions = normalizePermissions(*upd.Permissions)
	}
	return nil
}

func validateNewUser(u *User) error {
	u.Email = NormalizeEmail(u.Email)
	if !validEmail(u.Email) || u.PasswordHash == "" {
		return ErrInvalidInput
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if !u.Role.Valid() {
		return ErrInvalidInput
	}
	u.Permissions = normalizePermissions(u.Permissions)
	return nil
}
