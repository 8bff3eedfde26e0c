// Package compliance: DEA registration-number validation.
package compliance

// deaFirstLetters is the set of registrant-type letters the DEA issues.
// Letters I, N, O, Q, V, W, Y, Z are not assigned to dispensing registrants.
var deaFirstLetters = map[byte]bool{
	'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true,
	'G': true, 'H': true, 'J': true, 'K': true, 'L': true, 'M': true,
	'P': true, 'R': true, 'S': true, 'T': true, 'U': true, 'X': true,
}

// IsValidDEANumber validates a DEA registration number: two letters followed
// by seven digits, first letter from the issued registrant-type set, seventh
// digit the checksum (d1+d3+d5 + 2*(d2+d4+d6)) mod 10. It never panics and
// returns false on any violation.
func IsValidDEANumber(value string) bool {
	if len(value) != 9 {
		return false
	}

	first := upper(value[0])
	second := upper(value[1])
	if first < 'A' || first > 'Z' || second < 'A' || second > 'Z' {
		return false
	}
	if !deaFirstLetters[first] {
		return false
	}

	var digits [7]int
	for i := 0; i < 7; i++ {
		c := value[i+2]
		if c < '0' || c > '9' {
			return false
		}
		digits[i] = int(c - '0')
	}

	sum := digits[0] + digits[2] + digits[4] + 2*(digits[1]+digits[3]+digits[5])
	return sum%10 == digits[6]
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}
