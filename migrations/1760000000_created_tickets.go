package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"

	"transit-ticket/models"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("tickets")

		// Records only change through the ticket API; nil rules leave the
		// generic record endpoints to superusers.
		collection.ListRule = nil
		collection.ViewRule = nil
		collection.CreateRule = nil
		collection.UpdateRule = nil
		collection.DeleteRule = nil

		collection.Fields.Add(
			&core.TextField{Name: "owner_id", Required: true, Max: 64},
			&core.SelectField{Name: "kind", Required: true, MaxSelect: 1, Values: kindValues()},
			&core.SelectField{
				Name:      "status",
				Required:  true,
				MaxSelect: 1,
				Values: []string{
					string(models.StatusActive),
					string(models.StatusValidated),
					string(models.StatusExpired),
				},
			},
			&core.SelectField{
				Name:      "validation_status",
				MaxSelect: 1,
				Values: []string{
					string(models.ValidationNone),
					string(models.ValidationPending),
					string(models.ValidationValidated),
				},
			},
			&core.DateField{Name: "purchased_at", Required: true},
			&core.DateField{Name: "validated_at"},
			&core.DateField{Name: "expires_at"},
			&core.DateField{Name: "expired_at"},
			&core.DateField{Name: "confirmation_requested_at"},
			&core.JSONField{Name: "credential_payload", MaxSize: 4096},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_tickets_owner_purchased", false, "`owner_id`, `purchased_at`", "")
		collection.AddIndex("idx_tickets_status", false, "`status`", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("tickets")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}

func kindValues() []string {
	values := make([]string, 0, len(models.Kinds))
	for _, k := range models.Kinds {
		values = append(values, string(k))
	}
	return values
}
