package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// chipInfo mirrors the JSON shape of adapter.ChipInfo returned over the
// control socket; it carries yaml tags for --format=yaml rendering.
type chipInfo struct {
	ChipID          string `json:"ChipID" yaml:"chip_id"`
	FirmwareVersion string `json:"FirmwareVersion" yaml:"firmware_version"`
	MacAddress      string `json:"MacAddress" yaml:"mac_address"`
}

func adapterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adapter",
		Short: "Inspect and control the adapter over uwbd's debug socket",
	}
	cmd.AddCommand(adapterStateCmd())
	cmd.AddCommand(adapterChipsCmd())
	cmd.AddCommand(adapterSetEnabledCmd())
	return cmd
}

func adapterStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the adapter's current state",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Call("get-adapter-state", nil)
			if err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("uwbd: %s", resp.Error)
			}

			var out struct {
				State string `json:"state"`
			}
			if err := json.Unmarshal(resp.Data, &out); err != nil {
				return err
			}
			fmt.Println(out.State)
			return nil
		},
	}
}

func adapterChipsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chips",
		Short: "List enumerated chips",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Call("get-chip-infos", nil)
			if err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("uwbd: %s", resp.Error)
			}

			var chips []chipInfo
			if err := json.Unmarshal(resp.Data, &chips); err != nil {
				return err
			}
			return printChips(chips)
		},
	}
}

func adapterSetEnabledCmd() *cobra.Command {
	var enabled bool
	cmd := &cobra.Command{
		Use:   "set-enabled",
		Short: "Toggle the adapter's global enable state",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Call("set-enabled", map[string]bool{"enabled": enabled})
			if err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("uwbd: %s", resp.Error)
			}
			fmt.Printf("adapter enabled=%v\n", enabled)
			return nil
		},
	}
	cmd.Flags().BoolVar(&enabled, "enabled", true, "desired enable state")
	return cmd
}

// printChips renders the chip list according to the --format flag.
func printChips(chips []chipInfo) error {
	if outputFormat == "yaml" {
		out, err := yaml.Marshal(chips)
		if err != nil {
			return fmt.Errorf("marshal chips as yaml: %w", err)
		}
		fmt.Print(string(out))
		return nil
	}
	for _, c := range chips {
		fmt.Printf("%s\tfw=%s\tmac=%s\n", c.ChipID, c.FirmwareVersion, c.MacAddress)
	}
	return nil
}
