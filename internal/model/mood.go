package model

// Mood は検索時に選択するムードのラベル。
type Mood string

const (
	MoodHappySocial    Mood = "Happy & Social"
	MoodRomantic       Mood = "Romantic"
	MoodRelaxedChill   Mood = "Relaxed & Chill"
	MoodAdventurous    Mood = "Adventurous / Curious"
	MoodComfortCozy    Mood = "Comfort & Cozy"
	MoodEnergeticParty Mood = "Energetic / Party"
	MoodMindfulNature  Mood = "Mindful / Nature-Lover"
	MoodHealthyFresh   Mood = "Healthy & Fresh"
)

// Moods は選択可能な全ムードを表示順で返す。
func Moods() []Mood {
	return []Mood{
		MoodHappySocial,
		MoodRomantic,
		MoodRelaxedChill,
		MoodAdventurous,
		MoodComfortCozy,
		MoodEnergeticParty,
		MoodMindfulNature,
		MoodHealthyFresh,
	}
}

// Valid はムードが定義済みの8種のいずれかであればtrueを返す。
func (m Mood) Valid() bool {
	for _, v := range Moods() {
		if m == v {
			return true
		}
	}
	return false
}

// ParseMood は文字列をMoodに変換する。未定義のラベルはINVALID_MOODエラーとなる。
func ParseMood(s string) (Mood, error) {
	m := Mood(s)
	if !m.Valid() {
		return "", NewInvalidMoodError(s)
	}
	return m, nil
}
