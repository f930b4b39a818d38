package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/formbot/internal/client"
)

// UploadCommand uploads an email document and the destination credentials.
type UploadCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	file           string
	destinationURL string
	username       string
	password       string
	format         string
}

// NewUploadCommand returns the upload command.
func NewUploadCommand(rootCmd *RootCommand, app *kingpin.Application) *UploadCommand {
	c := &UploadCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("upload", "Upload an email document (.eml) and the destination form credentials.")
	c.Cmd.Arg("file", "Email document to upload.").Required().ExistingFileVar(&c.file)
	c.Cmd.Flag("destination-url", "URL of the form to fill.").Required().StringVar(&c.destinationURL)
	c.Cmd.Flag("username", "Destination login username.").Required().StringVar(&c.username)
	c.Cmd.Flag("password", "Destination login password.").Required().StringVar(&c.password)
	addFormatFlag(c.Cmd, &c.format)

	return c
}

func (c UploadCommand) Name() string { return c.Cmd.FullCommand() }

func (c UploadCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	cli, err := c.rootCmd.newClient()
	if err != nil {
		return err
	}

	f, err := os.Open(c.file)
	if err != nil {
		return fmt.Errorf("could not open document: %w", err)
	}
	defer f.Close()

	res, err := cli.Upload(ctx, client.UploadRequest{
		Filename:       filepath.Base(c.file),
		Content:        f,
		DestinationURL: c.destinationURL,
		Username:       c.username,
		Password:       c.password,
	})
	if err != nil {
		return fmt.Errorf("could not upload document: %w", err)
	}

	if res.ExtractionError != "" {
		logger.Warningf("Credentials saved but the email content could not be extracted, the automation can still be started")
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintUpload(*res); err != nil {
		return fmt.Errorf("could not print upload: %w", err)
	}

	return nil
}
