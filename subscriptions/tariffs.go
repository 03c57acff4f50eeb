package subscriptions

// Tariff is one purchasable tier of a plan type. Tiers are addressed by index
// in payment metadata, so the order here is part of the settlement contract.
type Tariff struct {
	PlanType PlanType `json:"plan_type"`
	Index    int      `json:"index"`
	Volume   int      `json:"volume"`
	Price    string   `json:"price"`
	Currency string   `json:"currency"`
}

var flowTariffs = []Tariff{
	{PlanType: PlanFlow, Index: 0, Volume: 1, Price: "490.00", Currency: "RUB"},
	{PlanType: PlanFlow, Index: 1, Volume: 5, Price: "1990.00", Currency: "RUB"},
	{PlanType: PlanFlow, Index: 2, Volume: 15, Price: "4990.00", Currency: "RUB"},
}

var creativeTariffs = []Tariff{
	{PlanType: PlanCreative, Index: 0, Volume: 10, Price: "290.00", Currency: "RUB"},
	{PlanType: PlanCreative, Index: 1, Volume: 30, Price: "690.00", Currency: "RUB"},
	{PlanType: PlanCreative, Index: 2, Volume: 100, Price: "1790.00", Currency: "RUB"},
}

// Catalog returns every purchasable tariff.
func Catalog() []Tariff {
	out := make([]Tariff, 0, len(flowTariffs)+len(creativeTariffs))
	out = append(out, flowTariffs...)
	out = append(out, creativeTariffs...)
	return out
}

// TariffFor maps a plan type and tier index to its tariff. The index comes
// from untrusted payment metadata, so out-of-range lookups return ok=false.
func TariffFor(pt PlanType, index int) (Tariff, bool) {
	var tiers []Tariff
	switch pt {
	case PlanFlow:
		tiers = flowTariffs
	case PlanCreative:
		tiers = creativeTariffs
	default:
		return Tariff{}, false
	}
	if index < 0 || index >= len(tiers) {
		return Tariff{}, false
	}
	return tiers[index], true
}

// VolumeFor returns the credit volume purchased at a tier.
func VolumeFor(pt PlanType, index int) (int, bool) {
	t, ok := TariffFor(pt, index)
	if !ok {
		return 0, false
	}
	return t.Volume, true
}
