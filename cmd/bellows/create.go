package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/bellows/internal/config"
)

var createFlags = struct {
	osFamily    string
	osRelease   string
	imageURL    string
	hostname    string
	diskSize    string
	memoryMB    int
	cpus        int
	sshPort     int
	gui         bool
	noAutologin bool
	autostart   bool
	forwards    string
}{}

var createCmd = &cobra.Command{
	Use:   "create <vm-name>",
	Short: "Create a VM",
	Long: `Create a new virtual machine.

Downloads the base image, grows it to the requested disk size, builds the
cloud-init seed, and persists the VM record. The VM is not started.

Example:
  bellows create web1 \
    --os-family debian --os-release 13 \
    --image-url https://cloud.debian.org/images/cloud/trixie/latest/debian-13-genericcloud-amd64.qcow2 \
    --disk 10G --memory 2048 --cpus 2 --ssh-port 2222`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}

		name := args[0]
		hostname := createFlags.hostname
		if hostname == "" {
			hostname = name
		}

		rec := &config.Record{
			Name:        name,
			OSFamily:    createFlags.osFamily,
			OSRelease:   createFlags.osRelease,
			ImageURL:    createFlags.imageURL,
			Hostname:    hostname,
			DiskSize:    createFlags.diskSize,
			MemoryMB:    createFlags.memoryMB,
			CPUs:        createFlags.cpus,
			SSHPort:     createFlags.sshPort,
			GUI:         createFlags.gui,
			AutoLogin:   !createFlags.noAutologin,
			AutoStart:   createFlags.autostart,
			PortForward: createFlags.forwards,
		}

		if err := mgr.Create(context.Background(), rec); err != nil {
			return fmt.Errorf("failed to create VM: %w", err)
		}

		fmt.Printf("VM %s created. Start it with: bellows start %s\n", name, name)
		return nil
	},
}

func init() {
	f := createCmd.Flags()
	f.StringVar(&createFlags.osFamily, "os-family", "", "guest OS family (e.g. debian)")
	f.StringVar(&createFlags.osRelease, "os-release", "", "guest OS release (e.g. 13)")
	f.StringVar(&createFlags.imageURL, "image-url", "", "base image URL (direct image or archive)")
	f.StringVar(&createFlags.hostname, "hostname", "", "guest hostname (defaults to the VM name)")
	f.StringVar(&createFlags.diskSize, "disk", "10G", "disk size, e.g. 10G or 512M")
	f.IntVar(&createFlags.memoryMB, "memory", 2048, "memory in MiB")
	f.IntVar(&createFlags.cpus, "cpus", 2, "virtual CPU count")
	f.IntVar(&createFlags.sshPort, "ssh-port", 2222, "host port forwarded to guest SSH")
	f.BoolVar(&createFlags.gui, "gui", false, "use a graphical display instead of the serial console")
	f.BoolVar(&createFlags.noAutologin, "no-autologin", false, "disable console autologin")
	f.BoolVar(&createFlags.autostart, "autostart", false, "mark the VM for auto-select-and-start")
	f.StringVar(&createFlags.forwards, "forward", "", "extra port forwards, e.g. \"8080:80, 8443:443/tcp\"")

	_ = createCmd.MarkFlagRequired("image-url")
	_ = createCmd.MarkFlagRequired("os-family")
	_ = createCmd.MarkFlagRequired("os-release")
}
