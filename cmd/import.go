package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/identity-core/internal/ingest"
	"github.com/sells-group/identity-core/internal/model"
	sfpkg "github.com/sells-group/identity-core/pkg/salesforce"
)

var importClient string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import CRM contacts as verified persons",
	Long:  "Pulls contacts with phone numbers from Salesforce and resolves each into the person store. Existing persons get the CRM identity merged in.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sf, err := initSalesforce()
		if err != nil {
			return err
		}

		var contacts []sfpkg.Contact
		if err := sf.Query(ctx, sfpkg.ContactQuery, &contacts); err != nil {
			return err
		}

		var created, existing, skipped int
		for _, contact := range contacts {
			if contact.ExternalID == "" {
				zap.L().Warn("import: contact missing external id, skipped",
					zap.String("crm_id", contact.ID),
				)
				skipped++
				continue
			}

			req := ingest.AddPersonRequest{
				Client:        importClient,
				PhoneNumber:   contact.Phone,
				Name:          contactName(contact),
				CRMInternalID: contact.ID,
				CRMExternalID: contact.ExternalID,
			}
			req.Source.Channel = model.ChannelCRM
			req.Source.Point = "salesforce-import"
			if contact.Email != "" {
				req.EmailAddresses = ingest.StringList{contact.Email}
			}

			_, existed, err := env.Pipeline.AddPerson(ctx, req)
			if err != nil {
				if model.IsValidation(err) {
					zap.L().Warn("import: contact rejected",
						zap.String("crm_id", contact.ID),
						zap.Error(err),
					)
					skipped++
					continue
				}
				return err
			}
			if existed {
				existing++
			} else {
				created++
			}
		}

		zap.L().Info("import finished",
			zap.String("client", importClient),
			zap.Int("created", created),
			zap.Int("existing", existing),
			zap.Int("skipped", skipped),
		)
		cmd.Printf("imported %d contacts: %d created, %d existing, %d skipped\n",
			len(contacts), created, existing, skipped)
		return nil
	},
}

func contactName(c sfpkg.Contact) string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	default:
		return c.FirstName + " " + c.LastName
	}
}

func init() {
	importCmd.Flags().StringVar(&importClient, "client", "", "client slug to import into (required)")
	_ = importCmd.MarkFlagRequired("client")
	rootCmd.AddCommand(importCmd)
}
