package domain

// Available is the capacity ledger: units of the zone not yet sold and not
// claimed by a PENDING or CONFIRMED hold. held is the summed quantity of
// those holds. The result is never negative.
func Available(z Zone, held int) int {
	free := z.Quota - z.Sold - held
	if free < 0 {
		return 0
	}
	return free
}

// SumHeld adds up quantities of holds that count against capacity.
func SumHeld(holds []Hold) int {
	total := 0
	for _, h := range holds {
		if h.Status.Held() {
			total += h.Quantity
		}
	}
	return total
}

// Fits reports whether qty could ever be admitted to the zone, even with
// no other holds outstanding.
func Fits(z Zone, qty int) bool {
	return qty <= z.Quota-z.Sold
}
