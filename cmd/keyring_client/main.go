package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/ruteri/keyring-registry/interfaces"
	"github.com/ruteri/keyring-registry/registryhandler"
	"github.com/urfave/cli/v2"
)

var flagServerAddr = &cli.StringFlag{
	Name:  "registry-addr",
	Value: "http://127.0.0.1:8080",
	Usage: "Keyring registry server address",
}

var flagKeyring = &cli.StringFlag{
	Name:  "keyring",
	Value: string(interfaces.DefaultKeyringID),
	Usage: "Keyring identifier to operate on",
}

func main() {
	app := &cli.App{
		Name:  "keyring-client",
		Usage: "Query and manage the keyring registry over its HTTP API",
		Flags: []cli.Flag{
			flagServerAddr,
		},
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List keyrings and their attributes",
				Action: withClient(runList),
			},
			{
				Name:      "create",
				Usage:     "Create a keyring",
				ArgsUsage: "<keyring-id>",
				Action:    withClient(runCreate),
			},
			{
				Name:      "delete",
				Usage:     "Delete a keyring and its key material",
				ArgsUsage: "<keyring-id>",
				Action:    withClient(runDelete),
			},
			{
				Name:   "identities",
				Usage:  "List identities, merged across keyrings or scoped to one",
				Flags:  []cli.Flag{flagKeyring},
				Action: withClient(runIdentities),
			},
			{
				Name:      "set-attr",
				Usage:     "Set one attribute on a keyring",
				ArgsUsage: "<name> <value>",
				Flags:     []cli.Flag{flagKeyring},
				Action:    withClient(runSetAttr),
			},
			{
				Name:      "import",
				Usage:     "Import an armored key file into a keyring",
				ArgsUsage: "<key-file>",
				Flags:     []cli.Flag{flagKeyring},
				Action:    withClient(runImport),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func withClient(fn func(*cli.Context, *registryhandler.Client) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		client := &registryhandler.Client{ServerAddr: cCtx.String(flagServerAddr.Name)}
		return fn(cCtx, client)
	}
}

func runList(cCtx *cli.Context, client *registryhandler.Client) error {
	response, err := client.ListKeyrings()
	if err != nil {
		return err
	}
	return printJSON(response)
}

func runCreate(cCtx *cli.Context, client *registryhandler.Client) error {
	id, err := keyringArg(cCtx)
	if err != nil {
		return err
	}
	response, err := client.CreateKeyring(id)
	if err != nil {
		return err
	}
	return printJSON(response)
}

func runDelete(cCtx *cli.Context, client *registryhandler.Client) error {
	id, err := keyringArg(cCtx)
	if err != nil {
		return err
	}
	return client.DeleteKeyring(id)
}

func runIdentities(cCtx *cli.Context, client *registryhandler.Client) error {
	var identities []interfaces.IdentityRecord
	var err error
	if cCtx.IsSet(flagKeyring.Name) {
		identities, err = client.KeyringIdentities(interfaces.KeyringID(cCtx.String(flagKeyring.Name)))
	} else {
		identities, err = client.AllIdentities()
	}
	if err != nil {
		return err
	}
	return printJSON(identities)
}

func runSetAttr(cCtx *cli.Context, client *registryhandler.Client) error {
	if cCtx.NArg() != 2 {
		return fmt.Errorf("expected attribute name and value arguments")
	}
	id := interfaces.KeyringID(cCtx.String(flagKeyring.Name))

	response, err := client.SetAttributes(id, interfaces.AttributeRecord{
		cCtx.Args().Get(0): cCtx.Args().Get(1),
	})
	if err != nil {
		return err
	}
	return printJSON(response)
}

func runImport(cCtx *cli.Context, client *registryhandler.Client) error {
	if cCtx.NArg() != 1 {
		return fmt.Errorf("expected a key file argument")
	}
	armored, err := os.ReadFile(cCtx.Args().First())
	if err != nil {
		return fmt.Errorf("could not read key file: %w", err)
	}

	id := interfaces.KeyringID(cCtx.String(flagKeyring.Name))
	return client.ImportKey(id, string(armored))
}

func keyringArg(cCtx *cli.Context) (interfaces.KeyringID, error) {
	if cCtx.NArg() != 1 {
		return "", fmt.Errorf("expected a keyring identifier argument")
	}
	return interfaces.NewKeyringID(cCtx.Args().First())
}

func printJSON(value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
