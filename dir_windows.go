// +build windows

package commcore

import (
	"os"
	"os/user"
	"path/filepath"
)

//	Find home directory of logged-in user
func UnsudoedHomeDir() (home string) {
	currentUser, err := user.Current()
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
	dir = filepath.Join(UnsudoedHomeDir(), "appdata", "local", "CommCore")
	err = os.MkdirAll(dir, os.FileMode(0700))
	return
}
