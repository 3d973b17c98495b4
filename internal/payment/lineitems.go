package payment

import (
	"fmt"

	"github.com/rafliafriza12/rbx-project-backup-sub002/internal/domain"
)

const AdminFeeItemID = "ADMIN_FEE"

// BuildLineItems flattens discounted orders into the list sent to the
// provider. Providers require Σ price*quantity to equal the gross amount, so
// an order whose final amount does not divide evenly by its quantity is sent
// as a single line.
func BuildLineItems(orders []domain.Order, fee int64) ([]LineItem, int64) {
	items := make([]LineItem, 0, len(orders)+1)
	var gross int64

	for _, o := range orders {
		name := o.ServiceName
		if name == "" {
			name = string(o.ServiceType)
		}

		item := LineItem{ID: o.InvoiceID, Name: name, Price: o.FinalAmount, Quantity: 1}
		if o.Quantity > 1 {
			if o.FinalAmount%int64(o.Quantity) == 0 {
				item.Price = o.FinalAmount / int64(o.Quantity)
				item.Quantity = o.Quantity
			} else {
				item.Name = fmt.Sprintf("%s x%d", name, o.Quantity)
			}
		}

		items = append(items, item)
		gross += item.Price * int64(item.Quantity)
	}

	if fee > 0 {
		items = append(items, LineItem{ID: AdminFeeItemID, Name: "Admin Fee", Price: fee, Quantity: 1})
		gross += fee
	}

	return items, gross
}
