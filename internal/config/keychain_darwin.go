//go:build darwin

package config

import "os/exec"

func keychainExec(service, account string) ([]byte, error) {
	return exec.Command("security", "find-generic-password", "-s", service, "-a", account, "-w").Output()
}

// keychainStore adds or updates (-U) a generic password item.
func keychainStore(service, account, value string) error {
	return exec.Command("security", "add-generic-password", "-U", "-s", service, "-a", account, "-w", value).Run()
}
