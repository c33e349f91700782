package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/somash07/PyroAlert/internal/config"
)

const (
	installDir  = "/opt/pyroalert"
	serviceName = "pyroalert.service"
	serviceFile = "/etc/systemd/system/" + serviceName
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install PyroAlert as a systemd service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := installService(); err != nil {
			return fmt.Errorf("installation failed: %w", err)
		}
		fmt.Println("✅ PyroAlert installed successfully!")
		fmt.Printf("   Binary: %s\n", filepath.Join(installDir, "pyroalert"))
		fmt.Printf("   Config: %s\n", filepath.Join(installDir, "config.json"))
		fmt.Printf("   Service: %s\n", serviceName)
		fmt.Println("")
		fmt.Println("To view logs:")
		fmt.Println("  sudo journalctl -u pyroalert -f")
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the PyroAlert systemd service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := uninstallService(); err != nil {
			return fmt.Errorf("uninstallation failed: %w", err)
		}
		fmt.Println("✅ PyroAlert uninstalled successfully!")
		return nil
	},
}

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=PyroAlert - fire and smoke alert node
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User=root
Group=root
WorkingDirectory={{.Dir}}

ExecStart={{.Binary}} --config {{.Config}}

Restart=always
RestartSec=10
StandardOutput=journal
StandardError=journal
SyslogIdentifier=pyroalert

# Security hardening
NoNewPrivileges=true
PrivateTmp=true
ReadWritePaths={{.Dir}}

[Install]
WantedBy=multi-user.target
`))

// renderUnit renders the systemd unit for an install directory
func renderUnit(dir string) (string, error) {
	var b strings.Builder
	err := unitTemplate.Execute(&b, struct {
		Dir, Binary, Config string
	}{
		Dir:    dir,
		Binary: filepath.Join(dir, "pyroalert"),
		Config: filepath.Join(dir, "config.json"),
	})
	return b.String(), err
}

// installService copies the binary, writes a default config and enables the unit
func installService() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("installation requires root privileges (use sudo)")
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	binPath := filepath.Join(installDir, "pyroalert")
	cfgPath := filepath.Join(installDir, "config.json")

	fmt.Println("Installing PyroAlert...")
	fmt.Printf("  Source: %s\n", exePath)
	fmt.Printf("  Target: %s\n", binPath)

	if err := os.MkdirAll(installDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", installDir, err)
	}

	if err := copyFile(exePath, binPath); err != nil {
		return err
	}
	fmt.Printf("  ✓ Copied binary to: %s\n", binPath)

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.WriteDefault(cfgPath); err != nil {
			return fmt.Errorf("failed to create default config: %w", err)
		}
		fmt.Printf("  ✓ Created default config: %s\n", cfgPath)
	}

	unit, err := renderUnit(installDir)
	if err != nil {
		return fmt.Errorf("failed to render service file: %w", err)
	}
	if err := os.WriteFile(serviceFile, []byte(unit), 0644); err != nil {
		return fmt.Errorf("failed to create service file: %w", err)
	}
	fmt.Printf("  ✓ Created service file: %s\n", serviceFile)

	for _, args := range [][]string{
		{"daemon-reload"},
		{"enable", serviceName},
		{"start", serviceName},
	} {
		if err := exec.Command("systemctl", args...).Run(); err != nil {
			return fmt.Errorf("systemctl %s failed: %w", strings.Join(args, " "), err)
		}
		fmt.Printf("  ✓ systemctl %s\n", strings.Join(args, " "))
	}

	return nil
}

// uninstallService stops and removes the unit. Files under installDir are kept.
func uninstallService() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("uninstallation requires root privileges (use sudo)")
	}

	fmt.Println("Uninstalling PyroAlert...")

	// Ignore errors if not running or not enabled
	exec.Command("systemctl", "stop", serviceName).Run()
	exec.Command("systemctl", "disable", serviceName).Run()

	if err := os.Remove(serviceFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove service file: %w", err)
	}
	fmt.Printf("  ✓ Removed service file: %s\n", serviceFile)

	exec.Command("systemctl", "daemon-reload").Run()

	fmt.Println("  ℹ️  Files preserved at:")
	fmt.Printf("     %s\n", installDir)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source binary: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return fmt.Errorf("failed to create target binary: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy binary: %w", err)
	}
	return nil
}
