package catalog

import "tycoon/internal/domain"

var defaultEntries = []domain.CatalogEntry{
	{
		TypeID:       "grocery_store",
		DisplayName:  "Grocery Store",
		Description:  "A small neighborhood grocery store selling essential items.",
		PurchaseCost: 500,
		HourlyIncome: 10,
		Capacity:     200,
		DecayPerHour: 3,
		RiskTier:     domain.RiskLow,
		MinorNarratives: []string{
			"A supply chain issue has affected your grocery store. Shipments delayed.",
			"Health inspectors found violations in your grocery store. Heavy fines imposed.",
			"Refrigeration units failed in your grocery store. All frozen products spoiled.",
			"A fire broke out in your grocery store. Stock destroyed and shop damaged.",
			"Pest infestation discovered in your grocery store. Health department involved.",
		},
		CatastrophicNarratives: []string{
			"An earthquake damaged your grocery store structure. Repairs needed urgently.",
		},
	},
	{
		TypeID:       "retail_shop",
		DisplayName:  "Retail Shop",
		Description:  "A trendy retail shop selling clothing and accessories.",
		PurchaseCost: 1200,
		HourlyIncome: 25,
		Capacity:     300,
		DecayPerHour: 4,
		RiskTier:     domain.RiskMedium,
		MinorNarratives: []string{
			"Your retail shop was broken into overnight. Merchandise stolen.",
			"Your retail shop's inventory system crashed. Records lost.",
			"A power outage damaged electronics in your retail shop. Insurance denied.",
			"A fire spread from a neighboring shop and damaged your retail inventory.",
			"Termites discovered in your retail shop's wooden fixtures. Store closed.",
		},
		CatastrophicNarratives: []string{
			"An earthquake damaged your retail shop. Expensive displays destroyed.",
		},
	},
	{
		TypeID:       "restaurant",
		DisplayName:  "Restaurant",
		Description:  "A popular restaurant with a diverse menu and loyal customers.",
		PurchaseCost: 2000,
		HourlyIncome: 60,
		Capacity:     400,
		DecayPerHour: 5,
		RiskTier:     domain.RiskHigh,
		MinorNarratives: []string{
			"A fire broke out in your restaurant kitchen. Equipment destroyed.",
			"Food poisoning outbreak traced to your restaurant. Lawsuits pending.",
			"Health department shut down your restaurant temporarily. Reputation damaged.",
			"A major fire destroyed most of your restaurant. Insurance processing delayed.",
			"Cockroach infestation discovered in your restaurant. Health code violations.",
		},
		CatastrophicNarratives: []string{
			"An earthquake damaged your restaurant building. Structure deemed unsafe.",
		},
	},
	{
		TypeID:       "private_company",
		DisplayName:  "Private Company",
		Description:  "A thriving tech company with innovative products.",
		PurchaseCost: 3500,
		HourlyIncome: 100,
		Capacity:     600,
		DecayPerHour: 3.5,
		RiskTier:     domain.RiskMedium,
		MinorNarratives: []string{
			"Your private company faced a major lawsuit. Legal fees skyrocketed.",
			"A key executive resigned from your company taking clients with them.",
			"Your private company lost a major client contract.",
			"A fire in your company server room destroyed critical data. Recovery costly.",
			"Your company's network was hit by a ransomware attack.",
		},
		CatastrophicNarratives: []string{
			"An earthquake damaged your company headquarters. Operations disrupted.",
		},
	},
	{
		TypeID:       "real_estate",
		DisplayName:  "Real Estate",
		Description:  "Prime property investments that generate steady rental income.",
		PurchaseCost: 5000,
		HourlyIncome: 50,
		Capacity:     300,
		DecayPerHour: 2.5,
		RiskTier:     domain.RiskLow,
		MinorNarratives: []string{
			"Your real estate property needs emergency repairs. Plumbing disaster.",
			"A tenant damaged your property and disappeared without paying.",
			"Property taxes increased unexpectedly on your real estate.",
			"A fire damaged multiple units in your real estate property.",
			"Termite infestation discovered throughout your real estate property.",
		},
		CatastrophicNarratives: []string{
			"An earthquake severely damaged your real estate investment. Building condemned.",
		},
	},
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(defaultEntries)
	if err != nil {
		panic("catalog: invalid default entries: " + err.Error())
	}
	return c
}
