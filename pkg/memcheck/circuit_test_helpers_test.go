package memcheck

import bn254fr "github.com/consensys/gnark-crypto/ecc/bn254/fr"

func oneElement() bn254fr.Element {
	var e bn254fr.Element
	e.SetOne()
	return e
}

func mulElement(a, b bn254fr.Element) bn254fr.Element {
	var out bn254fr.Element
	out.Mul(&a, &b)
	return out
}
