package commands

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/matrixd/federation"
	"github.com/teranos/matrixd/pdu"
)

// KeyCmd prints this server's signing identity: its did:key-encoded verify
// key and the signed key-server document served at
// /_matrix/key/v2/server, generating a new key on first run.
var KeyCmd = &cobra.Command{
	Use:   "key",
	Short: "Print this server's signing key and key-server document",
	Long:  `Show the ed25519 verify key (as a did:key) and the self-signed document this server publishes at /_matrix/key/v2/server, generating a signing key on first run if one does not exist yet.`,
	RunE:  runKey,
}

func signingKeyPath(databasePath string) string {
	return databasePath + ".signing.key"
}

func runKey(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	signer, pub, err := pdu.LoadOrCreateSigner(signingKeyPath(cfg.DatabasePath), cfg.ServerName)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}

	fmt.Printf("server_name: %s\n", cfg.ServerName)
	fmt.Printf("key_id:      %s\n", signer.KeyID)
	fmt.Printf("did:key:     %s\n", pdu.EncodeVerifyKey(pub))

	doc, err := federation.LocalKeyDocument(cfg.ServerName, signer, pub)
	if err != nil {
		return fmt.Errorf("build key document: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, doc, "", "  "); err != nil {
		return fmt.Errorf("format key document: %w", err)
	}
	fmt.Println(pretty.String())
	return nil
}
