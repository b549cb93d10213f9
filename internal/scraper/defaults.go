package scraper

import "github.com/ahmethakanbesel/pricewatch/internal/catalog"

const DefaultCount = 50

// MainCategories is the short term list used by the master storefront.
var MainCategories = []string{
	"almacen",
	"bebidas",
	"limpieza",
	"lacteos",
	"productos frescos",
	"panaderia",
	"congelados",
	"frutas y verduras",
	"carnes",
	"perfumeria",
}

var GeneralCategories = []string{
	"almacen",
	"bebidas",
	"limpieza",
	"lacteos",
	"productos frescos",
	"panaderia",
	"congelados",
	"frutas y verduras",
	"carnes y pescados",
	"desayuno y merienda",
	"perfumeria",
}

var DetailedCategories = []string{
	// almacén
	"Aceites y Vinagres", "Aderezos", "Arroz y Legumbres", "Conservas",
	"Desayuno y Merienda", "Golosinas y Chocolates", "Harinas", "Panificados",
	"Para Preparar", "Pastas Secas y Salsas", "Sal, Pimienta y Especias",
	"Snacks", "Sopas, Caldos y Puré",

	// bebidas
	"A Base de Hierbas", "Aguas", "Aperitivos", "Cervezas", "Champagnes",
	"Energizantes", "Bebidas Blancas", "Gaseosas", "Hielo", "Isotónicas",
	"Jugos", "Licores", "Sidras", "Vinos", "Whiskys",

	// frescos
	"Cremas", "Dulce de Leche", "Leches", "Mantecas y Margarinas",
	"Pastas y Tapas", "Quesos", "Yogures",
	"Dulces", "Encurtidos, Aceitunas y Pickles", "Fiambres", "Salchichas",
	"Pastas Frescas Simples", "Pastas Frescas Rellenas", "Salsa y Quesos",

	// limpieza
	"Accesorios de Limpieza", "Calzado", "Cuidado Para La Ropa",
	"Desodorantes de Ambiente", "Insecticidas", "Lavandina", "Limpieza de Baño",
	"Limpieza de Cocina", "Limpieza de Pisos y Muebles", "Papeles",

	// perfumería
	"Cuidado Capilar", "Cuidado de la Piel", "Cuidado Oral", "Cuidado Personal", "Farmacia",
}

// DefaultMerchants is used when no merchants file is configured.
func DefaultMerchants() []Merchant {
	return []Merchant{
		{Key: "disco", Name: "Disco", Role: catalog.RoleMaster, BaseURL: "https://www.disco.com.ar", Terms: MainCategories, Count: 20},
		{Key: "carrefour", Name: "Carrefour", Role: catalog.RoleFollower, BaseURL: "https://www.carrefour.com.ar", Terms: MainCategories, Count: 20},
		{Key: "jumbo", Name: "Jumbo", Role: catalog.RoleFollower, BaseURL: "https://www.jumbo.com.ar", Terms: DetailedCategories, Count: DefaultCount},
		{Key: "vea", Name: "Vea", Role: catalog.RoleFollower, BaseURL: "https://www.vea.com.ar", Terms: DetailedCategories, Count: DefaultCount},
		{Key: "dia", Name: "Dia", Role: catalog.RoleFollower, BaseURL: "https://diaonline.supermercadosdia.com.ar", Terms: DetailedCategories, Count: DefaultCount},
		{Key: "masonline", Name: "Masonline", Role: catalog.RoleFollower, BaseURL: "https://www.masonline.com.ar", Terms: DetailedCategories, Count: DefaultCount},
		{Key: "farmacity", Name: "Farmacity", Role: catalog.RoleFollower, BaseURL: "https://www.farmacity.com", Terms: GeneralCategories, Count: DefaultCount},
	}
}
