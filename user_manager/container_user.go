package user_manager

import (
	"crypto/rand"
	"errors"
	"math/big"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/lager/v3"
)

const (
	userNamePrefix = "c_"

	createUserAttempts = 5
	passwordLength     = 16
)

const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*()-_=+[]{};:,.?"
)

type ContainerUser struct {
	userManager UserManager
	credentials ironframe.Credentials
	logger      lager.Logger
}

func UserNameFor(id string) string {
	return userNamePrefix + id
}

// Create adds a local user for the container with id. The user joins group
// (when set), and the group, or the user itself without one, is granted
// desktop access. A partially created user is deleted before returning an
// error.
func Create(userManager UserManager, desktop DesktopPermissionManager, group, id string, logger lager.Logger) (*ContainerUser, error) {
	userName := UserNameFor(id)

	cLog := logger.Session("create-user", lager.Data{"user": userName})

	var password string
	var err error

	for attempt := 1; attempt <= createUserAttempts; attempt++ {
		password, err = GeneratePassword()
		if err != nil {
			return nil, err
		}

		err = userManager.CreateUser(userName, password)
		if err == nil || !errors.Is(err, ErrPasswordRejected) {
			break
		}

		cLog.Debug("password-rejected", lager.Data{"attempt": attempt})
	}

	if err != nil {
		cLog.Error("failed-to-create", err)
		return nil, err
	}

	user := &ContainerUser{
		userManager: userManager,
		credentials: ironframe.Credentials{UserName: userName, Password: password},
		logger:      logger,
	}

	principal := userName
	if group != "" {
		err = userManager.AddUserToGroup(userName, group)
		if err != nil {
			cLog.Error("failed-to-add-to-group", err, lager.Data{"group": group})
			return nil, errors.Join(err, user.Delete())
		}

		principal = group
	}

	err = desktop.AddDesktopPermission(principal)
	if err != nil {
		cLog.Error("failed-to-add-desktop-permission", err)
		return nil, errors.Join(err, user.Delete())
	}

	cLog.Info("created")

	return user, nil
}

// Restore rebuilds the user of an existing container. The password is not
// recoverable, so the restored credentials cannot be used to log on.
func Restore(userManager UserManager, id string, logger lager.Logger) *ContainerUser {
	return &ContainerUser{
		userManager: userManager,
		credentials: ironframe.Credentials{UserName: UserNameFor(id)},
		logger:      logger,
	}
}

func (u *ContainerUser) UserName() string {
	return u.credentials.UserName
}

func (u *ContainerUser) Credentials() ironframe.Credentials {
	return u.credentials
}

func (u *ContainerUser) Delete() error {
	err := u.userManager.DeleteUser(u.credentials.UserName)
	if err != nil {
		u.logger.Error("failed-to-delete-user", err, lager.Data{"user": u.credentials.UserName})
		return err
	}

	return nil
}

// GeneratePassword returns a random password containing at least one
// character of each class the default Windows complexity policy counts.
func GeneratePassword() (string, error) {
	classes := []string{lowerChars, upperChars, digitChars, symbolChars}
	all := lowerChars + upperChars + digitChars + symbolChars

	password := make([]byte, passwordLength)

	for i := range password {
		set := all
		if i < len(classes) {
			set = classes[i]
		}

		c, err := randomChar(set)
		if err != nil {
			return "", err
		}

		password[i] = c
	}

	for i := len(password) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}

		password[i], password[j.Int64()] = password[j.Int64()], password[i]
	}

	return string(password), nil
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}

	return set[n.Int64()], nil
}
