package cases

// Product names accepted at intake.
const (
	ProductCreditCard    = "Tarjeta de Crédito"
	ProductPersonalLoan  = "Préstamo Personal"
	ProductMortgage      = "Hipoteca"
	ProductSmallBusiness = "PyME"
)

// DefaultProduct is used when a lead arrives without a product.
const DefaultProduct = ProductCreditCard

var productRules = map[string][]string{
	ProductCreditCard:    {"dpi", "selfie", "comprobante_domicilio"},
	ProductPersonalLoan:  {"dpi", "comprobante_ingresos", "historial_crediticio"},
	ProductMortgage:      {"dpi", "constancia_ingresos", "avaluo", "comprobante_domicilio"},
	ProductSmallBusiness: {"dpi_representante", "patente", "estado_cuenta", "nit"},
}

// Checklist returns a copy of the required documents for product.
// Unknown products have an empty checklist.
func Checklist(product string) []string {
	return append([]string{}, productRules[product]...)
}

// Products returns every known product with its checklist.
func Products() map[string][]string {
	out := make(map[string][]string, len(productRules))
	for p := range productRules {
		out[p] = Checklist(p)
	}
	return out
}
