package routes

import (
	"net/http"
	"time"

	"hospital/handlers"
	"hospital/middleware"
	"hospital/models"
	"hospital/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var (
	staffRoles    = []models.Role{models.RoleDoctor, models.RoleNurse, models.RoleLab, models.RolePharmacy, models.RoleBilling, models.RoleReception, models.RoleAdmin}
	invoiceRoles  = []models.Role{models.RoleBilling, models.RoleReception, models.RoleDoctor, models.RoleAdmin}
	cashierRoles  = []models.Role{models.RoleBilling, models.RoleAdmin}
	mpesaRoles    = []models.Role{models.RolePatient, models.RoleBilling, models.RoleReception}
	mpesaCxlRoles = []models.Role{models.RolePatient, models.RoleBilling}
)

// RegisterBillingRoutes registers invoice and payment endpoints. Patients reach
// only their own records; ownership is checked below the router.
func RegisterBillingRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/billing")
	api.Use(middleware.JWTAuthMiddleware())
	{
		anyone := append([]models.Role{models.RolePatient}, staffRoles...)

		api.POST("/patients/:patientId/invoices", middleware.RequireRoles(invoiceRoles...), hb.CreateInvoiceHandler)
		api.GET("/patients/:patientId", middleware.RequireRoles(anyone...), hb.GetPatientBillingHandler)

		api.POST("/:billingId/expenses", middleware.RequireRoles(cashierRoles...), hb.AddExpenseHandler)
		api.POST("/:billingId/insurance-claims", middleware.RequireRoles(cashierRoles...), hb.AddInsuranceClaimHandler)

		invoice := api.Group("/:billingId/invoices/:invoiceId")
		invoice.GET("", middleware.RequireRoles(anyone...), hb.GetInvoiceHandler)
		invoice.PUT("/payment", middleware.RequireRoles(cashierRoles...), hb.RecordPaymentHandler)
		invoice.PUT("/cancel", middleware.RequireRoles(cashierRoles...), hb.CancelInvoiceHandler)

		invoice.POST("/mpesa", middleware.RequireRoles(mpesaRoles...), hb.InitiateMpesaHandler)
		invoice.DELETE("/mpesa", middleware.RequireRoles(mpesaCxlRoles...), hb.CancelMpesaHandler)
		invoice.GET("/payment-status", middleware.RequireRoles(anyone...), hb.PaymentStatusHandler)
		invoice.GET("/transactions", middleware.RequireRoles(anyone...), hb.TransactionHistoryHandler)
	}
}

// RegisterGatewayRoutes registers the unauthenticated M-Pesa webhook and the
// cashier view of callbacks that matched no transaction.
func RegisterGatewayRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.POST("/api/payments/mpesa/callback", hb.MpesaCallbackHandler)
	r.GET("/api/payments/mpesa/unmatched", middleware.JWTAuthMiddleware(), middleware.RequireRoles(cashierRoles...), hb.UnmatchedCallbacksHandler)
}

// RegisterHealthRoute registers a health-check endpoint.
func RegisterHealthRoute(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		status := utils.GetHealthStatus()
		code := http.StatusOK
		if status.Status == "degraded" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
}

// RegisterRoutes centralizes registration of all endpoints and middleware.
func RegisterRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	RegisterBillingRoutes(r, hb)
	RegisterGatewayRoutes(r, hb)
	RegisterHealthRoute(r)
}
