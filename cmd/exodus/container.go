package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/exodus/driver"
)

var containerRef driver.ContainerRef

var containerCmd = &cobra.Command{
	Use:   "container",
	Short: "Manage the tool container",
}

var containerRmCmd = &cobra.Command{
	Use:   "rm",
	Short: "Remove the tool container",
	Long: `Remove the container used by the container execution mode. Containers are
kept between runs so that installed packages survive; remove it to start
from a clean image.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ref := containerRef
		if ref.Image == "" {
			ref.Image = cfg.Docker.Image
		}
		if ref.Name == "" {
			ref.Name = cfg.Docker.Name
		}

		driver.DefaultPool.SetLogger(logger)
		if err := driver.DefaultPool.Remove(cmd.Context(), ref); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", ref)
		return nil
	},
}

func init() {
	containerRmCmd.Flags().StringVar(&containerRef.Name, "name", "", "Container name (default: [docker] name)")
	containerRmCmd.Flags().StringVar(&containerRef.Image, "image", "", "Image (default: [docker] image)")

	containerCmd.AddCommand(containerRmCmd)
}
