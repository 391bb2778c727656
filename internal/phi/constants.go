// Package phi provides the tuning constants derived from the golden ratio.
// No arbitrary magic numbers: every rate and threshold traces back to Φ.
package phi

import "math"

// Phi is the golden ratio.
const Phi = 1.6180339887498948

// Emanation constants derived from powers of Phi.
var (
	// Agnosis (Φ⁻³): entropy, error, privation, noise.
	// ~24%, the base rate of imperfection in all systems. Softens the
	// task success curve and anchors the default interest rate.
	Agnosis = math.Pow(Phi, -3) // 0.23606...

	// Psyche (Φ⁻²): coherence seed, transfer rate.
	// ~38%, the threshold of meaningful connection. Drives how often an
	// agent acts in a given tick.
	Psyche = math.Pow(Phi, -2) // 0.38197...

	// Matter (Φ⁻¹): material ratio, decay.
	// ~62%, the fraction that persists through transformation. Caps the
	// share of a balance an agent will stake or spend.
	Matter = math.Pow(Phi, -1) // 0.61803...

	// Being (Φ¹): growth factor, cooperation bonus.
	// ~1.618, the markup sellers ask over a good's base worth.
	Being = Phi // 1.61803...

	// Totality (Φ³): completion, the ceiling beyond which systems collapse.
	// ~4.236, the maximum ask multiple a listing may reach.
	Totality = math.Pow(Phi, 3) // 4.23606...
)
