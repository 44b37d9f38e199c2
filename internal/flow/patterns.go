package flow

// Patterns are the named formats a pattern rule may reference.
var Patterns = map[string]string{
	"email":   `^[^\s@]+@[^\s@]+\.[^\s@]+$`,
	"mobile":  `^\d{10}$`,
	"pincode": `^\d{6}$`,
	"aadhaar": `^\d{12}$`,
	"pan":     `^[A-Z]{5}[0-9]{4}[A-Z]$`,
	"ifsc":    `^[A-Z]{4}0[A-Z0-9]{6}$`,
	"gst":     `^\d{15}$`,
	"otp":     `^\d{6}$`,
}

// ChoiceSets are the named value lists a one_of rule may reference.
var ChoiceSets = map[string][]string{
	"gender":       {"male", "female", "other"},
	"address-type": {"residential", "commercial", "rented", "owned"},
	"indian-states": {
		"Andhra Pradesh", "Arunachal Pradesh", "Assam", "Bihar", "Chhattisgarh",
		"Goa", "Gujarat", "Haryana", "Himachal Pradesh", "Jharkhand", "Karnataka",
		"Kerala", "Madhya Pradesh", "Maharashtra", "Manipur", "Meghalaya",
		"Mizoram", "Nagaland", "Odisha", "Punjab", "Rajasthan", "Sikkim",
		"Tamil Nadu", "Telangana", "Tripura", "Uttar Pradesh", "Uttarakhand",
		"West Bengal", "Andaman and Nicobar Islands", "Chandigarh",
		"Dadra and Nagar Haveli and Daman and Diu", "Delhi", "Jammu and Kashmir",
		"Ladakh", "Lakshadweep", "Puducherry",
	},
}
