//go:build windows

package file_system

import (
	"golang.org/x/sys/windows"
)

type windowsACLApplier struct{}

func NewACLApplier() ACLApplier {
	return windowsACLApplier{}
}

// ApplyAccess sets a protected DACL so the directory does not inherit
// access from its parent.
func (windowsACLApplier) ApplyAccess(path string, access []UserAccess) error {
	entries := make([]windows.EXPLICIT_ACCESS, 0, len(access))

	for _, userAccess := range access {
		mask := accessMask(userAccess.Access)
		if mask == 0 {
			continue
		}

		entries = append(entries, windows.EXPLICIT_ACCESS{
			AccessPermissions: mask,
			AccessMode:        windows.GRANT_ACCESS,
			Inheritance:       windows.SUB_CONTAINERS_AND_OBJECTS_INHERIT,
			Trustee: windows.TRUSTEE{
				MultipleTrusteeOperation: windows.NO_MULTIPLE_TRUSTEE,
				TrusteeForm:              windows.TRUSTEE_IS_NAME,
				TrusteeType:              windows.TRUSTEE_IS_UNKNOWN,
				TrusteeValue:             windows.TrusteeValueFromString(userAccess.UserName),
			},
		})
	}

	acl, err := windows.ACLFromEntries(entries, nil)
	if err != nil {
		return err
	}

	return windows.SetNamedSecurityInfo(
		path,
		windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION|windows.PROTECTED_DACL_SECURITY_INFORMATION,
		nil,
		nil,
		acl,
		nil,
	)
}

func accessMask(access FileAccess) windows.ACCESS_MASK {
	var mask windows.ACCESS_MASK

	if access&AccessRead != 0 {
		mask |= windows.GENERIC_READ | windows.GENERIC_EXECUTE
	}

	if access&AccessWrite != 0 {
		mask |= windows.GENERIC_WRITE | windows.DELETE
	}

	return mask
}

// DefaultOwners returns the principals given full access to every
// container directory: the built-in administrators group and the account
// this process runs as.
func DefaultOwners() ([]string, error) {
	adminsSid, err := windows.CreateWellKnownSid(windows.WinBuiltinAdministratorsSid)
	if err != nil {
		return nil, err
	}

	admins, err := qualifiedAccountName(adminsSid)
	if err != nil {
		return nil, err
	}

	tokenUser, err := windows.GetCurrentProcessToken().GetTokenUser()
	if err != nil {
		return nil, err
	}

	current, err := qualifiedAccountName(tokenUser.User.Sid)
	if err != nil {
		return nil, err
	}

	return []string{admins, current}, nil
}

func qualifiedAccountName(sid *windows.SID) (string, error) {
	account, domain, _, err := sid.LookupAccount("")
	if err != nil {
		return "", err
	}

	if domain == "" {
		return account, nil
	}

	return domain + `\` + account, nil
}
