package session

import "errors"

var ErrUnknownFirstAid = errors.New("unknown first aid protocol")

// FirstAidProtocols returns a fresh copy of the static reference list.
func FirstAidProtocols() []FirstAidEntry {
	out := make([]FirstAidEntry, len(firstAidProtocols))
	for i, e := range firstAidProtocols {
		e.Steps = append([]FirstAidStep(nil), e.Steps...)
		out[i] = e
	}
	return out
}

func findFirstAid(list []FirstAidEntry, id string) (FirstAidEntry, bool) {
	for _, e := range list {
		if e.ID == id {
			return e, true
		}
	}
	return FirstAidEntry{}, false
}

var firstAidProtocols = []FirstAidEntry{
	{
		ID:          "cpr",
		Title:       "CPR & Cardiac Arrest",
		Description: "For unresponsive adults not breathing.",
		Steps: []FirstAidStep{
			{"Check Safety", "Ensure the scene is safe for you and the victim."},
			{"Check Responsiveness", `Tap shoulders and shout "Are you okay?". Check for breathing.`},
			{"Call Emergency", "Call 911 (or 108) immediately. Ask for an AED."},
			{"Start Compressions", "Push hard and fast in the center of the chest. 100-120 beats per minute."},
			{"Rescue Breaths", "If trained: 30 compressions then 2 breaths. If not, continue compressions only."},
		},
	},
	{
		ID:          "burns",
		Title:       "Severe Burns",
		Description: "Fire, chemical, or electrical burns.",
		Steps: []FirstAidStep{
			{"Cool the Burn", "Run cool (not cold) tap water over the burn for 10-20 minutes."},
			{"Remove Items", "Remove tight items (rings, watches) from the area before swelling starts."},
			{"Do Not Break Blisters", "Leave blisters intact to prevent infection."},
			{"Cover Loosely", "Cover with sterile gauze or a clean cloth. Do not use cotton."},
		},
	},
	{
		ID:          "bleeding",
		Title:       "Heavy Bleeding",
		Description: "Deep cuts and wounds.",
		Steps: []FirstAidStep{
			{"Apply Pressure", "Cover wound with clean cloth and apply direct pressure."},
			{"Elevate", "Raise the injured part above the heart if possible."},
			{"Add More Layers", "If blood soaks through, do not remove the cloth. Add another on top."},
			{"Bandage", "Secure the cloth with a bandage once bleeding slows."},
		},
	},
	{
		ID:          "choking",
		Title:       "Choking",
		Description: "Airway blockage.",
		Steps: []FirstAidStep{
			{"Encourage Coughing", "If they can cough, let them cough it out."},
			{"Back Blows", "Lean them forward. Give 5 sharp blows between shoulder blades."},
			{"Heimlich Maneuver", "Stand behind. Wrap arms around waist. Pull inward and upward 5 times."},
		},
	},
	{
		ID:          "shock",
		Title:       "Shock",
		Description: "After severe injury or allergy.",
		Steps: []FirstAidStep{
			{"Lay Down", "Lay person flat on back. Elevate feet 12 inches."},
			{"Keep Warm", "Cover with a coat or blanket."},
			{"No Food/Drink", "Do not give anything to eat or drink."},
		},
	},
}
