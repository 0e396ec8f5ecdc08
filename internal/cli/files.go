package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newFilesCmd creates the 'files' command group.
func newFilesCmd() *cobra.Command {
	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "File operations (rename, delete, mkdir, count, size)",
		Long:  `Commands for managing files and directories on the library server.`,
	}

	filesCmd.AddCommand(newFilesRenameCmd())
	filesCmd.AddCommand(newFilesDeleteCmd())
	filesCmd.AddCommand(newFilesMkdirCmd())
	filesCmd.AddCommand(newFilesCountCmd())
	filesCmd.AddCommand(newFilesSizeCmd())

	return filesCmd
}

// newFilesRenameCmd creates the 'files rename' command.
func newFilesRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <source> <destination>",
		Short: "Rename a file or directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newAPIClient()
			if err != nil {
				return err
			}
			if err := client.Rename(GetContext(), args[0], args[1]); err != nil {
				return fmt.Errorf("rename failed: %w", err)
			}
			fmt.Printf("renamed %s -> %s\n", args[0], args[1])
			return nil
		},
	}
}

// newFilesDeleteCmd creates the 'files delete' command.
func newFilesDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <path>",
		Short: "Delete a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete %q without --yes", args[0])
			}
			client, _, err := newAPIClient()
			if err != nil {
				return err
			}
			if err := client.Delete(GetContext(), args[0]); err != nil {
				return fmt.Errorf("delete failed: %w", err)
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the deletion")
	return cmd
}

// newFilesMkdirCmd creates the 'files mkdir' command.
func newFilesMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newAPIClient()
			if err != nil {
				return err
			}
			if err := client.CreateFolder(GetContext(), args[0]); err != nil {
				return fmt.Errorf("mkdir failed: %w", err)
			}
			fmt.Printf("created %s\n", args[0])
			return nil
		},
	}
}

// newFilesCountCmd creates the 'files count' command.
func newFilesCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count <path>",
		Short: "Count plain files under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newAPIClient()
			if err != nil {
				return err
			}
			n, err := client.CountFiles(GetContext(), args[0])
			if err != nil {
				return fmt.Errorf("count failed: %w", err)
			}
			fmt.Printf("%d\n", n)
			return nil
		},
	}
}

// newFilesSizeCmd creates the 'files size' command.
func newFilesSizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "size <path>",
		Short: "Show the size and contents summary of a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newAPIClient()
			if err != nil {
				return err
			}
			fs, err := client.GetFolderSize(GetContext(), args[0])
			if err != nil {
				return fmt.Errorf("size lookup failed: %w", err)
			}
			fmt.Printf("%s  (%d comics, %d magazines)\n", fs.Size, fs.ComicCount, fs.MagazineCount)
			return nil
		},
	}
}
