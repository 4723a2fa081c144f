package responder

import (
	"slices"
	"strings"

	"basegraph.app/chorus/internal/model"
)

type topic struct {
	// triggers are matched against the incoming message.
	triggers []string
	// affinity is matched against an entity's name and description.
	affinity []string
}

var topics = map[string]topic{
	"food": {
		triggers: []string{"eat", "food", "dinner", "lunch", "breakfast", "hungry", "recipe", "cook", "吃", "饭", "饿"},
		affinity: []string{"chef", "cook", "foodie", "baker", "gourmet", "厨"},
	},
	"games": {
		triggers: []string{"game", "gaming", "play", "steam", "console", "游戏"},
		affinity: []string{"gamer", "player", "esports", "游戏"},
	},
	"music": {
		triggers: []string{"song", "music", "concert", "album", "sing", "歌", "音乐"},
		affinity: []string{"musician", "singer", "band", "guitar", "piano", "音乐", "歌手"},
	},
	"tech": {
		triggers: []string{"code", "computer", "bug", "program", "phone", "app", "电脑", "代码"},
		affinity: []string{"engineer", "developer", "programmer", "hacker", "geek", "程序员"},
	},
	"sport": {
		triggers: []string{"run", "gym", "workout", "football", "basketball", "match", "运动", "健身"},
		affinity: []string{"athlete", "coach", "runner", "fitness", "运动"},
	},
	"study": {
		triggers: []string{"exam", "study", "homework", "class", "school", "考试", "学习", "作业"},
		affinity: []string{"student", "teacher", "professor", "tutor", "学生", "老师"},
	},
	"travel": {
		triggers: []string{"travel", "trip", "flight", "vacation", "holiday", "旅游", "旅行"},
		affinity: []string{"traveler", "traveller", "explorer", "pilot", "旅行"},
	},
	"mood": {
		triggers: []string{"sad", "tired", "lonely", "stressed", "upset", "cry", "难过", "累", "烦"},
		affinity: []string{"caring", "gentle", "listener", "therapist", "温柔", "体贴"},
	},
	"pets": {
		triggers: []string{"cat", "dog", "pet", "puppy", "kitten", "猫", "狗"},
		affinity: []string{"vet", "animal", "pet", "猫", "狗"},
	},
}

// ExtractKeywords returns the topic keys whose trigger terms occur in text,
// sorted.
func ExtractKeywords(text string) []string {
	return match(strings.ToLower(text), func(t topic) []string { return t.triggers })
}

// Affinity returns the topic keys an entity gravitates towards: keys whose
// affinity terms occur in its name or description, plus its explicit
// affinity keywords.
func Affinity(e model.Entity) []string {
	profile := strings.ToLower(e.Name + " " + e.Description)
	keys := match(profile, func(t topic) []string { return t.affinity })

	for _, kw := range e.AffinityKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && !slices.Contains(keys, kw) {
			keys = append(keys, kw)
		}
	}
	return keys
}

func match(text string, terms func(topic) []string) []string {
	var keys []string
	for key, t := range topics {
		for _, term := range terms(t) {
			if strings.Contains(text, term) {
				keys = append(keys, key)
				break
			}
		}
	}
	slices.Sort(keys)
	return keys
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}
