package cloudinit

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/bellows/internal/config"
)

func testRecord() *config.Record {
	return &config.Record{
		Name:           "web1",
		Hostname:       "web1",
		DiskSize:       "10G",
		MemoryMB:       2048,
		CPUs:           2,
		SSHPort:        2222,
		AutoLogin:      true,
		StartupActions: map[string]string{},
	}
}

func parseUserData(t *testing.T, content string) *UserData {
	t.Helper()
	if !strings.HasPrefix(content, "#cloud-config\n") {
		t.Fatal("user-data must start with '#cloud-config'")
	}
	var ud UserData
	if err := yaml.Unmarshal([]byte(strings.TrimPrefix(content, "#cloud-config\n")), &ud); err != nil {
		t.Fatalf("failed to parse user-data YAML: %v", err)
	}
	return &ud
}

func findWriteFile(ud *UserData, path string) *WriteFile {
	for i := range ud.WriteFiles {
		if ud.WriteFiles[i].Path == path {
			return &ud.WriteFiles[i]
		}
	}
	return nil
}

func TestBuildUserDataNilRecord(t *testing.T) {
	if _, err := BuildUserData(nil); err == nil {
		t.Error("expected error for nil record")
	}
}

func TestBuildUserDataBasics(t *testing.T) {
	content, err := BuildUserData(testRecord())
	if err != nil {
		t.Fatalf("BuildUserData returned error: %v", err)
	}
	ud := parseUserData(t, content)

	if ud.Hostname != "web1" {
		t.Errorf("hostname = %q, want web1", ud.Hostname)
	}
	if !ud.SSHPasswordAuth {
		t.Error("ssh_pwauth must be enabled")
	}
	if ud.DisableRoot {
		t.Error("disable_root must be false")
	}
	if len(ud.Users) != 1 || ud.Users[0].Name != GuestUser {
		t.Fatalf("expected exactly one %s user, got %#v", GuestUser, ud.Users)
	}
	if ud.Users[0].Sudo != "ALL=(ALL) NOPASSWD:ALL" {
		t.Errorf("user sudo = %q, want unrestricted", ud.Users[0].Sudo)
	}
	if ud.Users[0].PlainTextPass != GuestPassword {
		t.Errorf("user password = %q, want fixed constant", ud.Users[0].PlainTextPass)
	}
	if ud.Chpasswd == nil || ud.Chpasswd.List != "root:root" {
		t.Errorf("chpasswd = %#v, want root:root", ud.Chpasswd)
	}

	sshd := findWriteFile(ud, "/etc/ssh/sshd_config.d/60-bellows.conf")
	if sshd == nil {
		t.Fatal("sshd drop-in missing from write_files")
	}
	if !strings.Contains(sshd.Content, "PermitRootLogin yes") ||
		!strings.Contains(sshd.Content, "PasswordAuthentication yes") {
		t.Errorf("sshd drop-in content = %q", sshd.Content)
	}
}

func TestBuildUserDataAutoLogin(t *testing.T) {
	tests := []struct {
		name      string
		autoLogin bool
	}{
		{name: "enabled", autoLogin: true},
		{name: "disabled", autoLogin: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testRecord()
			rec.AutoLogin = tt.autoLogin

			content, err := BuildUserData(rec)
			if err != nil {
				t.Fatalf("BuildUserData returned error: %v", err)
			}
			ud := parseUserData(t, content)

			tty := findWriteFile(ud, "/etc/systemd/system/getty@tty1.service.d/autologin.conf")
			serial := findWriteFile(ud, "/etc/systemd/system/serial-getty@ttyS0.service.d/autologin.conf")

			if tt.autoLogin {
				if tty == nil || serial == nil {
					t.Fatal("autologin drop-ins missing with auto_login=true")
				}
				for _, f := range []*WriteFile{tty, serial} {
					if !strings.Contains(f.Content, "--autologin root") {
						t.Errorf("drop-in %s lacks autologin directive: %q", f.Path, f.Content)
					}
				}
			} else {
				if tty != nil || serial != nil {
					t.Error("autologin drop-ins present with auto_login=false")
				}
			}

			// The flag must not disturb unrelated fields.
			if ud.Hostname != "web1" || !ud.SSHPasswordAuth {
				t.Error("auto_login flag affected unrelated fields")
			}
		})
	}
}

func TestBuildUserDataNoActionsOmitsDispatcher(t *testing.T) {
	content, err := BuildUserData(testRecord())
	if err != nil {
		t.Fatalf("BuildUserData returned error: %v", err)
	}
	ud := parseUserData(t, content)

	if findWriteFile(ud, DispatcherPath) != nil {
		t.Error("dispatcher present with zero startup actions")
	}
	for _, cmd := range ud.RunCmd {
		if strings.Contains(cmd, "startup actions") {
			t.Errorf("action status line present with zero actions: %q", cmd)
		}
	}
}

func TestBuildUserDataWithActions(t *testing.T) {
	rec := testRecord()
	rec.StartupActions = map[string]string{
		"deploy": "echo hi",
		"backup": `tar czf "/tmp/b.tgz" /srv`,
	}

	content, err := BuildUserData(rec)
	if err != nil {
		t.Fatalf("BuildUserData returned error: %v", err)
	}
	ud := parseUserData(t, content)

	dispatcher := findWriteFile(ud, DispatcherPath)
	if dispatcher == nil {
		t.Fatal("dispatcher missing with actions configured")
	}
	if dispatcher.Permissions != "0755" {
		t.Errorf("dispatcher permissions = %q, want 0755", dispatcher.Permissions)
	}
	if !strings.Contains(dispatcher.Content, ActionDir) ||
		!strings.Contains(dispatcher.Content, ActionLogPath) {
		t.Error("dispatcher does not reference action dir and log path")
	}

	deploy := findWriteFile(ud, ActionDir+"/deploy")
	if deploy == nil {
		t.Fatal("action file for deploy missing")
	}
	lines := strings.Split(strings.TrimRight(deploy.Content, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("action file has %d lines, want shebang + comment + command:\n%s", len(lines), deploy.Content)
	}
	if lines[0] != "#!/bin/sh" {
		t.Errorf("first line = %q, want shebang", lines[0])
	}
	if !strings.Contains(lines[1], "deploy") {
		t.Errorf("comment line %q does not name the action", lines[1])
	}
	if lines[2] != "echo hi" {
		t.Errorf("command line = %q, want raw command text", lines[2])
	}

	// Command text with quotes must survive the document round trip intact.
	backup := findWriteFile(ud, ActionDir+"/backup")
	if backup == nil {
		t.Fatal("action file for backup missing")
	}
	if !strings.Contains(backup.Content, `tar czf "/tmp/b.tgz" /srv`) {
		t.Errorf("quoted command was mangled: %q", backup.Content)
	}

	// Status line lists the configured action names.
	var statusLine string
	for _, cmd := range ud.RunCmd {
		if strings.Contains(cmd, "startup actions") {
			statusLine = cmd
		}
	}
	if !strings.Contains(statusLine, "backup, deploy") {
		t.Errorf("status line %q does not list sorted action names", statusLine)
	}

	// chmod and alias setup must be present.
	joined := strings.Join(ud.RunCmd, "\n")
	if !strings.Contains(joined, "chmod 0755 "+DispatcherPath) {
		t.Error("runcmd lacks dispatcher chmod")
	}
	if !strings.Contains(joined, "/root/.profile") {
		t.Error("runcmd lacks profile alias installation")
	}
}

func TestBuildUserDataRunCmdServiceVariants(t *testing.T) {
	content, err := BuildUserData(testRecord())
	if err != nil {
		t.Fatalf("BuildUserData returned error: %v", err)
	}
	ud := parseUserData(t, content)

	joined := strings.Join(ud.RunCmd, "\n")
	if !strings.Contains(joined, "chpasswd") {
		t.Error("runcmd does not re-assert the credential pair")
	}
	for _, variant := range []string{"systemctl restart sshd", "systemctl restart ssh", "service ssh restart"} {
		if !strings.Contains(joined, variant) {
			t.Errorf("runcmd lacks SSH restart variant %q", variant)
		}
	}
}

func TestBuildMetaData(t *testing.T) {
	rec := testRecord()
	content, err := BuildMetaData(rec, 1756377600123)
	if err != nil {
		t.Fatalf("BuildMetaData returned error: %v", err)
	}

	var md MetaData
	if err := yaml.Unmarshal([]byte(content), &md); err != nil {
		t.Fatalf("failed to parse meta-data YAML: %v", err)
	}
	if md.InstanceID != "iid-web1-1756377600123" {
		t.Errorf("instance-id = %q, want name and token combined", md.InstanceID)
	}
	if md.LocalHostname != "web1" {
		t.Errorf("local-hostname = %q, want web1", md.LocalHostname)
	}
}

func TestBuildMetaDataFreshTokensDiffer(t *testing.T) {
	rec := testRecord()
	a, err := BuildMetaData(rec, 1000)
	if err != nil {
		t.Fatal(err)
	}
	b, err := BuildMetaData(rec, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("different tokens must yield different instance ids")
	}
}

func TestFreshnessTokenMonotonicEnough(t *testing.T) {
	a := FreshnessToken()
	b := FreshnessToken()
	if b < a {
		t.Errorf("token went backwards: %d then %d", a, b)
	}
	if a <= 0 {
		t.Errorf("token = %d, want positive millisecond timestamp", a)
	}
}
