package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/yeremiapane/tablesync/services"
	"github.com/yeremiapane/tablesync/utils"
)

func NewConsumeEventsCommand(rootOpts *RootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "consume-events",
		Short: "Print order lifecycle events from RabbitMQ",
		Long: `Reads the order events queue and writes one line per event to stdout.
Useful as an audit tail next to the POS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config()
			if cfg.RabbitMQURL == "" {
				return errors.New("RABBITMQ_URL is not set")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			utils.InfoLogger.WithField("queue", cfg.EventsQueue).Info("consuming order events")
			err := services.ConsumeOrderEvents(ctx, cfg.RabbitMQURL, cfg.EventsQueue, auditHandler(cmd.OutOrStdout(), asJSON))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON events")
	return cmd
}

func auditHandler(w io.Writer, asJSON bool) func(services.OrderEvent) error {
	return func(event services.OrderEvent) error {
		if event.Type == "" || event.OrderID == 0 {
			return fmt.Errorf("incomplete event %+v", event)
		}
		utils.InfoLogger.WithFields(logrus.Fields{
			"event": event.Type,
			"order": event.OrderID,
		}).Debug("event received")

		if asJSON {
			return json.NewEncoder(w).Encode(event)
		}
		line := fmt.Sprintf("%s %-16s order=%d table=%s status=%s total=%.2f lines=%d",
			event.OccurredAt.UTC().Format("2006-01-02T15:04:05Z"), event.Type, event.OrderID,
			event.TableNumber, event.Status, event.Total, event.Lines)
		if event.Reason != "" {
			line += " reason=" + event.Reason
		}
		_, err := fmt.Fprintln(w, line)
		return err
	}
}
