// Package cloudinit builds first-boot provisioning payloads for VM records
// and packs them into bootable NoCloud seed images.
//
// The generated documents follow the cloud-init NoCloud datasource
// specification. See
// https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/bellows/internal/config"
)

// The guest credential pair is fixed and not user-configurable. Every record
// gets the same root/root login; the generated payload asserts it on each
// boot regardless of what the base image ships with.
const (
	GuestUser     = "root"
	GuestPassword = "root"
)

// In-guest paths written by the payload.
const (
	DispatcherPath = "/usr/local/bin/vm-action"
	ActionDir      = "/opt/bellows/actions"
	ActionLogPath  = "/var/log/vm-actions.log"
	sshdDropInPath = "/etc/ssh/sshd_config.d/60-bellows.conf"

	ttyAutologinPath    = "/etc/systemd/system/getty@tty1.service.d/autologin.conf"
	serialAutologinPath = "/etc/systemd/system/serial-getty@ttyS0.service.d/autologin.conf"
)

// UserData is the cloud-config document structure, marshaled to YAML behind
// the "#cloud-config" header.
type UserData struct {
	Hostname        string      `yaml:"hostname"`
	SSHPasswordAuth bool        `yaml:"ssh_pwauth"`
	DisableRoot     bool        `yaml:"disable_root"`
	Users           []User      `yaml:"users"`
	Chpasswd        *Chpasswd   `yaml:"chpasswd,omitempty"`
	WriteFiles      []WriteFile `yaml:"write_files,omitempty"`
	RunCmd          []string    `yaml:"runcmd,omitempty"`
}

// User declares one guest account.
type User struct {
	Name          string   `yaml:"name"`
	Sudo          string   `yaml:"sudo,omitempty"`
	Shell         string   `yaml:"shell,omitempty"`
	LockPasswd    bool     `yaml:"lock_passwd"`
	PlainTextPass string   `yaml:"plain_text_passwd,omitempty"`
	SSHRedirect   bool     `yaml:"ssh_redirect_user,omitempty"`
	Groups        []string `yaml:"groups,omitempty"`
}

// Chpasswd configures guest password assignment.
type Chpasswd struct {
	Expire bool   `yaml:"expire"`
	List   string `yaml:"list"`
}

// WriteFile is one file materialized by cloud-init on first boot.
type WriteFile struct {
	Path        string `yaml:"path"`
	Permissions string `yaml:"permissions"`
	Content     string `yaml:"content"`
}

// MetaData is the NoCloud instance metadata document.
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// FreshnessToken returns a millisecond-resolution timestamp embedded in the
// instance id. A new token per start guarantees the guest's provisioning
// agent treats every boot as unseen even though the disk is reused.
func FreshnessToken() int64 {
	return time.Now().UnixMilli()
}

// BuildUserData renders the primary provisioning document for a record.
func BuildUserData(rec *config.Record) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("VM record cannot be nil")
	}

	ud := UserData{
		Hostname:        rec.Hostname,
		SSHPasswordAuth: true,
		DisableRoot:     false,
		Users: []User{
			{
				Name:          GuestUser,
				Sudo:          "ALL=(ALL) NOPASSWD:ALL",
				Shell:         "/bin/bash",
				LockPasswd:    false,
				PlainTextPass: GuestPassword,
			},
		},
		Chpasswd: &Chpasswd{
			Expire: false,
			List:   fmt.Sprintf("%s:%s", GuestUser, GuestPassword),
		},
		WriteFiles: []WriteFile{
			{
				Path:        sshdDropInPath,
				Permissions: "0644",
				Content:     "PermitRootLogin yes\nPasswordAuthentication yes\n",
			},
		},
	}

	if rec.AutoLogin {
		ud.WriteFiles = append(ud.WriteFiles,
			WriteFile{
				Path:        ttyAutologinPath,
				Permissions: "0644",
				Content:     autologinUnit("--noclear %I $TERM"),
			},
			WriteFile{
				Path:        serialAutologinPath,
				Permissions: "0644",
				Content:     autologinUnit("--keep-baud 115200,57600,38400,9600 %I $TERM"),
			},
		)
	}

	actionNames := sortedActionNames(rec.StartupActions)
	if len(actionNames) > 0 {
		ud.WriteFiles = append(ud.WriteFiles, WriteFile{
			Path:        DispatcherPath,
			Permissions: "0755",
			Content:     dispatcherScript(),
		})
		for _, name := range actionNames {
			ud.WriteFiles = append(ud.WriteFiles, WriteFile{
				Path:        ActionDir + "/" + name,
				Permissions: "0755",
				Content:     actionScript(name, rec.StartupActions[name]),
			})
		}
	}

	ud.RunCmd = buildRunCmd(rec, actionNames)

	data, err := yaml.Marshal(&ud)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}
	return "#cloud-config\n" + string(data), nil
}

// BuildMetaData renders the metadata document. The instance id combines the
// VM name with the freshness token.
func BuildMetaData(rec *config.Record, token int64) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("VM record cannot be nil")
	}

	md := MetaData{
		InstanceID:    fmt.Sprintf("iid-%s-%d", rec.Name, token),
		LocalHostname: rec.Hostname,
	}
	data, err := yaml.Marshal(&md)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}
	return string(data), nil
}

func autologinUnit(agettyArgs string) string {
	return "[Service]\n" +
		"ExecStart=\n" +
		fmt.Sprintf("ExecStart=-/sbin/agetty --autologin %s %s\n", GuestUser, agettyArgs)
}

// dispatcherScript is the in-guest action runner. It looks the named action
// up in the action directory, runs it with timestamped output tee'd to the
// action log, and reports success or failure.
func dispatcherScript() string {
	return `#!/bin/sh
# Runs a named startup action installed under ` + ActionDir + `.
ACTION_DIR=` + ActionDir + `
LOG=` + ActionLogPath + `

if [ -z "$1" ]; then
    echo "usage: vm-action <name>" >&2
    exit 64
fi

SCRIPT="$ACTION_DIR/$1"
if [ ! -x "$SCRIPT" ]; then
    echo "vm-action: unknown action '$1'" >&2
    exit 66
fi

RC_FILE=$(mktemp)
echo "=== action $1 started $(date '+%Y-%m-%d %H:%M:%S') ===" | tee -a "$LOG"
{ "$SCRIPT"; echo $? > "$RC_FILE"; } 2>&1 | while IFS= read -r line; do
    printf '%s %s\n' "$(date '+%Y-%m-%d %H:%M:%S')" "$line"
done | tee -a "$LOG"
rc=$(cat "$RC_FILE")
rm -f "$RC_FILE"

if [ "$rc" -eq 0 ]; then
    echo "=== action $1 succeeded ===" | tee -a "$LOG"
else
    echo "=== action $1 failed (exit $rc) ===" | tee -a "$LOG"
fi
exit "$rc"
`
}

// actionScript wraps one raw command in an executable file. The command text
// is embedded verbatim; the YAML marshaler handles the document's own
// quoting, so nothing here is double-escaped.
func actionScript(name, command string) string {
	return fmt.Sprintf("#!/bin/sh\n# startup action: %s\n%s\n", name, command)
}

func sortedActionNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// buildRunCmd assembles the trailing command section: credential
// re-assertion, SSH daemon restart across service-manager variants, console
// autologin activation, action tooling setup, and operator-visible status
// lines on the first-boot console.
func buildRunCmd(rec *config.Record, actionNames []string) []string {
	cmds := []string{
		// Idempotent even when the base image's user database differs.
		fmt.Sprintf("echo '%s:%s' | chpasswd || true", GuestUser, GuestPassword),
		"systemctl restart sshd || systemctl restart ssh || service sshd restart || service ssh restart || true",
	}

	if rec.AutoLogin {
		cmds = append(cmds,
			"systemctl daemon-reload || true",
			"systemctl enable getty@tty1.service serial-getty@ttyS0.service || true",
			"systemctl restart getty@tty1.service || true",
			"systemctl restart serial-getty@ttyS0.service || true",
		)
	}

	if len(actionNames) > 0 {
		cmds = append(cmds,
			fmt.Sprintf("chmod 0755 %s %s/*", DispatcherPath, ActionDir),
			`printf '%s\n' "alias actions='ls `+ActionDir+`'" >> /root/.profile`,
			`printf '%s\n' "alias run-action='`+DispatcherPath+`'" >> /root/.profile`,
		)
	}

	cmds = append(cmds,
		fmt.Sprintf("echo '=== bellows: hostname %s configured ==='", rec.Hostname),
		fmt.Sprintf("echo '=== bellows: %s login with password enabled ==='", GuestUser),
	)
	if rec.AutoLogin {
		cmds = append(cmds, "echo '=== bellows: console autologin enabled ==='")
	}
	if len(actionNames) > 0 {
		cmds = append(cmds, fmt.Sprintf("echo '=== bellows: startup actions: %s ==='",
			strings.Join(actionNames, ", ")))
	}
	return cmds
}
