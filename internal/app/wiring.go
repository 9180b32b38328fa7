package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fos/internal/service/checkout"
	"github.com/vladislavdragonenkov/fos/internal/service/inventory"
	"github.com/vladislavdragonenkov/fos/internal/service/loyalty"
	"github.com/vladislavdragonenkov/fos/internal/service/voucher"
	"github.com/vladislavdragonenkov/fos/internal/transport/httpapi"
)

// services — доменные сервисы, собранные поверх хранилищ.
type services struct {
	orchestrator *checkout.Orchestrator
	vouchers     *voucher.Evaluator
	loyalty      *loyalty.Ledger
}

// buildServices собирает inventory ledger, voucher evaluator, loyalty ledger
// и checkout-оркестратор поверх хранилищ.
func buildServices(deps *Dependencies) *services {
	stock := inventory.NewLedger(deps.Products, deps.Logger.WithField("component", "inventory"))
	evaluator := voucher.NewEvaluator(deps.Vouchers, deps.UserVouchers, deps.Logger.WithField("component", "voucher"))
	loyaltyLedger := loyalty.NewLedger(deps.Loyalty, deps.Logger.WithField("component", "loyalty"))

	orchestrator := checkout.NewOrchestrator(
		deps.Orders,
		deps.Products,
		deps.Carts,
		stock,
		evaluator,
		loyaltyLedger,
		deps.Outbox,
		deps.Logger.WithField("component", "checkout"),
	)

	return &services{
		orchestrator: orchestrator,
		vouchers:     evaluator,
		loyalty:      loyaltyLedger,
	}
}

// buildHTTPServer собирает HTTP-слой поверх сервисов.
func buildHTTPServer(deps *Dependencies, svc *services, logger *log.Entry) *httpapi.Server {
	return httpapi.NewServer(
		svc.orchestrator,
		deps.Orders,
		deps.Products,
		svc.vouchers,
		svc.loyalty,
		logger.WithField("component", "httpapi"),
	)
}
