// +build !windows

package commcore

import (
	"os"
	"os/user"
	"path/filepath"
)

//	Find home directory of logged-in user even when run as sudo
func UnsudoedHomeDir() (home string) {
	userName := os.Getenv("SUDO_USER")
	if userName == "" {
		userName = os.Getenv("USER")
	}
	currentUser, err := user.Lookup(userName)
	if err == nil && currentUser != nil {
		home = currentUser.HomeDir
	} else {
		log.Notice("falling back to $HOME")
		home = os.Getenv("HOME")
	}
	return
}

//	ConfigDir returns the directory commcored keeps its default unix
//	socket and admin state in, creating it if necessary.
func ConfigDir() (dir string, err error) {
	dir = filepath.Join(UnsudoedHomeDir(), ".commcore")
	err = os.MkdirAll(dir, os.FileMode(0700))
	return
}
