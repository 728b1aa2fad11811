package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/spf13/cobra"
	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/utils"
	"gorm.io/gorm"
)

type qrTokenOptions struct {
	RestaurantID uint
	TableID      uint
	BaseURL      string
	JSON         bool
}

// QRCode is what gets printed onto a table.
type QRCode struct {
	TableNumber string `json:"table_number"`
	TablePID    string `json:"table_pid"`
	Token       string `json:"token"`
	URL         string `json:"url,omitempty"`
}

func NewQRTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &qrTokenOptions{}

	cmd := &cobra.Command{
		Use:   "qr-token",
		Short: "Print the signed QR payload for a table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config()
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)

			code, err := buildQRCode(db, utils.NewQRSigner(cfg.QRSecret), opts)
			if err != nil {
				return err
			}
			return printQRCode(cmd.OutOrStdout(), code, opts.JSON)
		},
	}

	cmd.Flags().UintVar(&opts.RestaurantID, "restaurant", 0, "restaurant id")
	cmd.Flags().UintVar(&opts.TableID, "table", 0, "table id")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "diner app URL to append table and token to")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print as JSON")
	_ = cmd.MarkFlagRequired("restaurant")
	_ = cmd.MarkFlagRequired("table")

	return cmd
}

func buildQRCode(db *gorm.DB, signer utils.QRSigner, opts *qrTokenOptions) (*QRCode, error) {
	var table models.Table
	err := db.Where("id = ? AND restaurant_id = ?", opts.TableID, opts.RestaurantID).First(&table).Error
	if err != nil {
		return nil, fmt.Errorf("table %d of restaurant %d: %w", opts.TableID, opts.RestaurantID, err)
	}

	code := &QRCode{
		TableNumber: table.TableNumber,
		TablePID:    table.PID,
		Token:       signer.CreateQRToken(table.RestaurantID, table.ID),
	}
	if opts.BaseURL != "" {
		u, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("base url: %w", err)
		}
		q := u.Query()
		q.Set("table", table.PID)
		q.Set("token", code.Token)
		u.RawQuery = q.Encode()
		code.URL = u.String()
	}
	return code, nil
}

func printQRCode(w io.Writer, code *QRCode, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(code)
	}
	fmt.Fprintf(w, "table:  %s\npid:    %s\ntoken:  %s\n", code.TableNumber, code.TablePID, code.Token)
	if code.URL != "" {
		fmt.Fprintf(w, "url:    %s\n", code.URL)
	}
	return nil
}
